package filing

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource serves filings that were fetched ahead of time into
// <Root>/<TICKER>/<YEAR>_Q<N>_<FORM>.txt.
type DirSource struct {
	Root string
}

func (s DirSource) Fetch(ctx context.Context, ticker string, year, quarter int) (Filing, error) {
	if err := ctx.Err(); err != nil {
		return Filing{}, err
	}
	pattern := filepath.Join(s.Root, strings.ToUpper(ticker), fmt.Sprintf("%d_Q%d_*.txt", year, quarter))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return Filing{}, fmt.Errorf("matching %s: %w", pattern, err)
	}
	matches = filterTranscripts(matches)
	if len(matches) == 0 {
		return Filing{}, fmt.Errorf("%w: %s %d Q%d", ErrNoFiling, ticker, year, quarter)
	}
	sort.Strings(matches)
	path := matches[0]

	body, err := os.ReadFile(path)
	if err != nil {
		return Filing{}, fmt.Errorf("reading filing: %w", err)
	}

	prefix := fmt.Sprintf("%d_Q%d_", year, quarter)
	form := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix), ".txt")

	return Filing{
		Ticker:  strings.ToUpper(ticker),
		Year:    year,
		Quarter: quarter,
		Form:    normalizeForm(form),
		URL:     fileURL(path),
		Text:    string(body),
	}, nil
}

// DirTranscripts serves transcripts from <Root>/<TICKER>/<YEAR>_Q<N>_transcript.txt.
// An optional first line "Date: <date>" sets the call date.
type DirTranscripts struct {
	Root string
}

func (s DirTranscripts) Fetch(ctx context.Context, ticker string, year, quarter int) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	path := filepath.Join(s.Root, strings.ToUpper(ticker), fmt.Sprintf("%d_Q%d_transcript.txt", year, quarter))
	body, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Transcript{}, fmt.Errorf("%w: %s %d Q%d", ErrNoTranscript, ticker, year, quarter)
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("reading transcript: %w", err)
	}

	var t Transcript
	text := string(body)
	sc := bufio.NewScanner(strings.NewReader(text))
	if sc.Scan() {
		first := sc.Text()
		if d, ok := strings.CutPrefix(first, "Date:"); ok {
			t.Date = strings.TrimSpace(d)
			text = strings.TrimPrefix(text[len(first):], "\n")
		}
	}
	t.Text = strings.TrimSpace(text)
	return t, nil
}

func filterTranscripts(paths []string) []string {
	out := paths[:0]
	for _, p := range paths {
		if !strings.HasSuffix(p, "_transcript.txt") {
			out = append(out, p)
		}
	}
	return out
}

func normalizeForm(form string) string {
	form = strings.ToUpper(strings.ReplaceAll(form, "-", ""))
	if form == "" {
		return "10Q"
	}
	return form
}

func fileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}
