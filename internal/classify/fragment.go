package classify

import (
	"strings"
	"unicode/utf8"
)

// Kind distinguishes prose from tabular fragments.
type Kind string

const (
	KindParagraph Kind = "paragraph"
	KindTable     Kind = "table"
)

const (
	DefaultWindow  = 5
	summaryLimit   = 300
	excerptRows    = 3
	tableFormatMax = 40
)

// Fragment is one paragraph or table of a document. Table text holds one
// row per line with cells separated by " | ".
type Fragment struct {
	Kind Kind
	Text string
}

// Rows splits a table fragment into cells.
func (f Fragment) Rows() [][]string {
	var rows [][]string
	for _, line := range strings.Split(f.Text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	return rows
}

// Excerpt is what the provider sees as the target of a classification.
func (f Fragment) Excerpt() string {
	if f.Kind == KindTable {
		return joinRows(f.Rows(), excerptRows)
	}
	return collapse(f.Text)
}

// Summary is the short form used when the fragment is context for a neighbour.
func (f Fragment) Summary() string {
	if f.Kind == KindTable {
		return "TABLE:\n" + joinRows(f.Rows(), excerptRows)
	}
	return truncate(collapse(f.Text), summaryLimit)
}

// Task is one fragment to classify plus its neighbours.
type Task struct {
	Index    int
	Fragment Fragment
	Before   []string
	After    []string
}

// BuildTasks pairs each fragment with up to window summaries on each side.
func BuildTasks(fragments []Fragment, window int) []Task {
	if window <= 0 {
		window = DefaultWindow
	}
	summaries := make([]string, len(fragments))
	for i, f := range fragments {
		summaries[i] = f.Summary()
	}

	tasks := make([]Task, len(fragments))
	for i, f := range fragments {
		lo := max(0, i-window)
		hi := min(len(fragments), i+window+1)
		tasks[i] = Task{
			Index:    i,
			Fragment: f,
			Before:   append([]string(nil), summaries[lo:i]...),
			After:    append([]string(nil), summaries[i+1:hi]...),
		}
	}
	return tasks
}

func joinRows(rows [][]string, limit int) string {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = strings.Join(r, " | ")
	}
	return strings.Join(lines, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
