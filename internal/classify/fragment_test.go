package classify_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kiranshivaraju/raven/internal/classify"
	"github.com/kiranshivaraju/raven/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paragraphs(n int) []classify.Fragment {
	out := make([]classify.Fragment, n)
	for i := range out {
		out[i] = classify.Fragment{Kind: classify.KindParagraph, Text: fmt.Sprintf("p%d", i)}
	}
	return out
}

func TestBuildTasks_Window(t *testing.T) {
	tasks := classify.BuildTasks(paragraphs(12), 0)
	require.Len(t, tasks, 12)

	assert.Empty(t, tasks[0].Before)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, tasks[0].After)

	assert.Equal(t, 6, tasks[6].Index)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, tasks[6].Before)
	assert.Equal(t, []string{"p7", "p8", "p9", "p10", "p11"}, tasks[6].After)

	assert.Equal(t, []string{"p9", "p10"}, tasks[11].Before[3:])
	assert.Empty(t, tasks[11].After)
}

func TestBuildTasks_CustomWindow(t *testing.T) {
	tasks := classify.BuildTasks(paragraphs(5), 1)
	assert.Equal(t, []string{"p1"}, tasks[2].Before)
	assert.Equal(t, []string{"p3"}, tasks[2].After)
}

func TestFragment_SummaryAndExcerpt(t *testing.T) {
	long := classify.Fragment{Kind: classify.KindParagraph, Text: "  Revenue\n\tgrew " + strings.Repeat("x", 400)}
	assert.Len(t, []rune(long.Summary()), 300)
	assert.True(t, strings.HasPrefix(long.Excerpt(), "Revenue grew x"))

	table := classify.Fragment{Kind: classify.KindTable, Text: "Item | 2024 | 2023\nRevenue | 10 | 8\nCost|4|3\nNet | 6 | 5"}
	assert.Equal(t, "TABLE:\nItem | 2024 | 2023\nRevenue | 10 | 8\nCost | 4 | 3", table.Summary())
	assert.Equal(t, "Item | 2024 | 2023\nRevenue | 10 | 8\nCost | 4 | 3", table.Excerpt())
	assert.Len(t, table.Rows(), 4)
}

func TestBuildPrompt(t *testing.T) {
	tasks := classify.BuildTasks([]classify.Fragment{
		{Kind: classify.KindParagraph, Text: "Guidance raised."},
		{Kind: classify.KindTable, Text: "a | b"},
	}, 5)

	p := classify.BuildPrompt(tasks[0])
	assert.True(t, p.JSON)
	assert.Contains(t, p.User, "**paragraph**")
	assert.Contains(t, p.User, "----- BEFORE -----\n(none)")
	assert.Contains(t, p.User, "===== TARGET =====\nGuidance raised.")
	assert.Contains(t, p.User, "----- AFTER ------\nTABLE:\na | b")
	assert.Contains(t, p.User, `{"relevant":"yes|no","why":"…"}`)

	p = classify.BuildPrompt(tasks[1])
	assert.Contains(t, p.User, "**table excerpt**")
}

func TestEstimateWeight(t *testing.T) {
	assert.Equal(t, 151, classify.EstimateWeight(models.Prompt{}))
	assert.Equal(t, 250, classify.EstimateWeight(models.Prompt{User: strings.Repeat("a", 400)}))
	assert.Equal(t, 260, classify.EstimateWeight(models.Prompt{System: strings.Repeat("s", 40), User: strings.Repeat("a", 400)}))
}

func TestParseTable(t *testing.T) {
	tbl, err := classify.ParseTable("```json\n" + `{
		"title": "Income statement",
		"units": "USD millions",
		"headers": ["Item", "2024"],
		"rows": [["Revenue", 10.5], {"Item": "Cost", "2024": 4}]
	}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Income statement", tbl.Title)
	assert.Equal(t, "USD millions", tbl.Units)
	assert.Equal(t, []string{"Item", "2024"}, tbl.Headers)
	assert.Equal(t, [][]string{{"Revenue", "10.5"}, {"Cost", "4"}}, tbl.Rows)
}

func TestParseTable_Malformed(t *testing.T) {
	_, err := classify.ParseTable("not json")
	assert.ErrorIs(t, err, classify.ErrMalformedTable)

	_, err = classify.ParseTable(`{"title":"","units":"","headers":[],"rows":[]}`)
	assert.ErrorIs(t, err, classify.ErrMalformedTable)
}
