package filing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/raven/internal/classify"
)

func TestDirSink_WritesMarkdown(t *testing.T) {
	root := t.TempDir()
	sink := DirSink{Root: root, DataVersion: "3"}
	ctx := context.Background()

	doc, err := sink.Open(ctx, "AAPL/2024/Q1", "AAPL 2024 Q1 - 10Q")
	require.NoError(t, err)

	require.NoError(t, doc.Append(ctx, Entry{Index: 0, Fragment: classify.Fragment{Kind: classify.KindParagraph, Text: "Revenue rose."}}))
	require.NoError(t, doc.Append(ctx, Entry{
		Index:    4,
		Fragment: classify.Fragment{Kind: classify.KindTable, Text: "a | b"},
		Table: &classify.Table{
			Units:   "USD millions",
			Headers: []string{"Segment", "2024"},
			Rows:    [][]string{{"iPhone", "200"}, {"Mac", "30"}},
		},
	}))
	require.NoError(t, doc.Append(ctx, Entry{Index: 6, Fragment: classify.Fragment{Kind: classify.KindTable, Text: "Item | Value\nCash | 10"}}))
	require.NoError(t, doc.Close())

	path := filepath.Join(root, "AAPL", "2024", "Q1", "AAPL_2024_Q1_-_10Q.md")
	assert.Equal(t, "file://"+filepath.ToSlash(path), doc.URL())

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "data_version = 3\n\n# AAPL 2024 Q1 - 10Q\n\n" +
		"Revenue rose.\n\n" +
		"***Units: USD millions***\n\n" +
		"| Segment | 2024 |\n| --- | --- |\n| iPhone | 200 |\n| Mac | 30 |\n\n" +
		"| Item | Value |\n| --- | --- |\n| Cash | 10 |\n\n"
	assert.Equal(t, want, string(body))

	csv, err := os.ReadFile(filepath.Join(root, "AAPL", "2024", "Q1", "AAPL_2024_Q1_-_10Q_table4.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Segment,2024\niPhone,200\nMac,30\n", string(csv))
}

func TestDirSink_AppendAfterClose(t *testing.T) {
	doc, err := DirSink{Root: t.TempDir()}.Open(context.Background(), "X/2024/Q1", "X")
	require.NoError(t, err)
	require.NoError(t, doc.Close())
	require.NoError(t, doc.Close())

	err = doc.Append(context.Background(), Entry{Fragment: classify.Fragment{Kind: classify.KindParagraph, Text: "late"}})
	assert.ErrorIs(t, err, ErrDocumentClosed)
}
