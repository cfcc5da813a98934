package filing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestDirSource_Fetch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "AAPL", "2024_Q1_10-Q.txt"), "quarterly text")
	writeFile(t, filepath.Join(root, "AAPL", "2024_Q1_transcript.txt"), "not a filing")

	f, err := DirSource{Root: root}.Fetch(context.Background(), "aapl", 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", f.Ticker)
	assert.Equal(t, "10Q", f.Form)
	assert.Equal(t, "quarterly text", f.Text)
	assert.True(t, strings.HasPrefix(f.URL, "file://"))
	assert.True(t, strings.HasSuffix(f.URL, "2024_Q1_10-Q.txt"))
}

func TestDirSource_Missing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "AAPL", "2024_Q1_transcript.txt"), "only a transcript")

	_, err := DirSource{Root: root}.Fetch(context.Background(), "AAPL", 2024, 1)
	assert.ErrorIs(t, err, ErrNoFiling)
}

func TestDirTranscripts_Fetch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "MSFT", "2023_Q4_transcript.txt"), "Date: 2024-01-30\nGood afternoon everyone.\n")
	writeFile(t, filepath.Join(root, "MSFT", "2023_Q3_transcript.txt"), "No date line here.")

	src := DirTranscripts{Root: root}

	tr, err := src.Fetch(context.Background(), "msft", 2023, 4)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-30", tr.Date)
	assert.Equal(t, "Good afternoon everyone.", tr.Text)

	tr, err = src.Fetch(context.Background(), "MSFT", 2023, 3)
	require.NoError(t, err)
	assert.Empty(t, tr.Date)
	assert.Equal(t, "No date line here.", tr.Text)

	_, err = src.Fetch(context.Background(), "MSFT", 2023, 2)
	assert.ErrorIs(t, err, ErrNoTranscript)
}
