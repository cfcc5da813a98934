// Package filing runs the body of a job: fetch one quarterly filing, split
// it into fragments, classify them and write the relevant ones out.
package filing

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/raven/internal/classify"
)

var (
	ErrNoFiling       = errors.New("filing not found")
	ErrNoTranscript   = errors.New("transcript not found")
	ErrDocumentClosed = errors.New("document is closed")
)

// Filing is a fetched filing reduced to plain text.
type Filing struct {
	Ticker  string
	Year    int
	Quarter int
	Form    string
	URL     string
	Text    string
}

// Transcript is an earnings call transcript.
type Transcript struct {
	Date string
	Text string
}

type Source interface {
	Fetch(ctx context.Context, ticker string, year, quarter int) (Filing, error)
}

type TranscriptSource interface {
	Fetch(ctx context.Context, ticker string, year, quarter int) (Transcript, error)
}

type Splitter interface {
	Split(f Filing) []classify.Fragment
}

// Folders maps a ticker and period to the folder id documents go in.
type Folders interface {
	Resolve(ctx context.Context, ticker string, year, quarter int) (string, error)
}

// Entry is one block written to a document. Table is set for tables the
// provider managed to normalise.
type Entry struct {
	Index    int
	Fragment classify.Fragment
	Table    *classify.Table
}

// Document receives entries in order. Close flushes pending writes and
// reports the first write error.
type Document interface {
	Append(ctx context.Context, e Entry) error
	URL() string
	Close() error
}

type Sink interface {
	Open(ctx context.Context, folderID, title string) (Document, error)
}
