package classify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedTable is returned when the provider's structured table cannot
// be used.
var ErrMalformedTable = errors.New("malformed table response")

// Table is a provider-normalised table.
type Table struct {
	Title   string
	Units   string
	Headers []string
	Rows    [][]string
}

// ParseTable decodes the table-format response, coercing loosely typed
// cells to strings.
func ParseTable(text string) (Table, error) {
	var raw struct {
		Title   any `json:"title"`
		Units   any `json:"units"`
		Headers any `json:"headers"`
		Rows    any `json:"rows"`
	}
	if err := json.Unmarshal([]byte(StripFences(text)), &raw); err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}

	t := Table{
		Title: stringify(raw.Title),
		Units: stringify(raw.Units),
	}
	switch h := raw.Headers.(type) {
	case nil:
	case []any:
		for _, c := range h {
			t.Headers = append(t.Headers, stringify(c))
		}
	default:
		t.Headers = []string{stringify(h)}
	}
	if len(t.Headers) == 0 {
		return Table{}, fmt.Errorf("%w: no headers", ErrMalformedTable)
	}

	rows, ok := raw.Rows.([]any)
	if !ok && raw.Rows != nil {
		rows = []any{raw.Rows}
	}
	for _, r := range rows {
		switch row := r.(type) {
		case []any:
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = stringify(c)
			}
			t.Rows = append(t.Rows, cells)
		case map[string]any:
			cells := make([]string, len(t.Headers))
			for i, h := range t.Headers {
				cells[i] = stringify(row[h])
			}
			t.Rows = append(t.Rows, cells)
		default:
			t.Rows = append(t.Rows, []string{stringify(row)})
		}
	}
	return t, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
