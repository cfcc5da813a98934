package filing

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/raven/internal/classify"
)

var (
	blankLines = regexp.MustCompile(`\n[ \t]*\n`)
	whitespace = regexp.MustCompile(`\s+`)
	ruleRow    = regexp.MustCompile(`^[\s|:+-]+$`)
)

// TextSplitter splits plain text into blank-line separated blocks. A block
// is a table when most of its lines have '|' or tab separated cells.
type TextSplitter struct {
	// MinChars drops paragraphs shorter than this many characters.
	MinChars int
}

func (s TextSplitter) Split(f Filing) []classify.Fragment {
	text := strings.ReplaceAll(f.Text, "\r\n", "\n")
	var out []classify.Fragment
	for _, block := range blankLines.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if rows, ok := tableRows(block); ok {
			out = append(out, classify.Fragment{Kind: classify.KindTable, Text: strings.Join(rows, "\n")})
			continue
		}
		para := strings.TrimSpace(whitespace.ReplaceAllString(block, " "))
		if utf8.RuneCountInString(para) < s.MinChars {
			continue
		}
		out = append(out, classify.Fragment{Kind: classify.KindParagraph, Text: para})
	}
	return out
}

func tableRows(block string) ([]string, bool) {
	lines := strings.Split(block, "\n")
	if len(lines) < 2 {
		return nil, false
	}
	cells := 0
	for _, l := range lines {
		if strings.Contains(l, "|") || strings.Contains(l, "\t") {
			cells++
		}
	}
	if cells*2 <= len(lines) {
		return nil, false
	}

	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || ruleRow.MatchString(l) {
			continue
		}
		l = strings.Trim(strings.ReplaceAll(l, "\t", " | "), "| ")
		parts := strings.Split(l, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		rows = append(rows, strings.Join(parts, " | "))
	}
	return rows, len(rows) > 0
}
