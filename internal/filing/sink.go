package filing

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/kiranshivaraju/raven/internal/classify"
	"github.com/kiranshivaraju/raven/internal/worker"
)

const writeBuffer = 64

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DirSink writes each document as a markdown file under Root/<folderID>.
// Formatted tables are also written next to it as CSV.
type DirSink struct {
	Root        string
	DataVersion string
}

func (s DirSink) Open(ctx context.Context, folderID, title string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.Root, filepath.FromSlash(folderID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating document folder: %w", err)
	}
	base := strings.Trim(unsafeName.ReplaceAllString(title, "_"), "_")
	path := filepath.Join(dir, base+".md")

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	d := &markdownDoc{
		dir:    dir,
		base:   base,
		url:    fileURL(path),
		file:   f,
		w:      bufio.NewWriter(f),
		writes: make(chan func() error, writeBuffer),
		done:   make(chan struct{}),
	}
	go d.loop()

	version := s.DataVersion
	if version == "" {
		version = "1"
	}
	header := fmt.Sprintf("data_version = %s\n\n# %s\n\n", version, title)
	if err := d.enqueue(ctx, func() error {
		_, err := d.w.WriteString(header)
		return err
	}); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// markdownDoc serializes all file I/O on one writer goroutine.
type markdownDoc struct {
	dir  string
	base string
	url  string
	file *os.File
	w    *bufio.Writer

	writes chan func() error
	done   chan struct{}

	mu     sync.Mutex
	closed bool

	errMu sync.Mutex
	err   error
}

func (d *markdownDoc) URL() string { return d.url }

func (d *markdownDoc) Append(ctx context.Context, e Entry) error {
	switch {
	case e.Table != nil:
		worker.ReportProgress(ctx, "table")
		return d.enqueue(ctx, func() error { return d.writeTable(e.Index, *e.Table) })
	case e.Fragment.Kind == classify.KindTable:
		worker.ReportProgress(ctx, "table")
		return d.enqueue(ctx, func() error { return d.writeRawTable(e.Fragment) })
	default:
		worker.ReportProgress(ctx, "write_para")
		text := e.Fragment.Text
		return d.enqueue(ctx, func() error {
			_, err := d.w.WriteString(text + "\n\n")
			return err
		})
	}
}

func (d *markdownDoc) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return d.firstErr()
	}
	d.closed = true
	close(d.writes)
	d.mu.Unlock()

	<-d.done
	if err := d.w.Flush(); err != nil {
		d.setErr(err)
	}
	if err := d.file.Close(); err != nil {
		d.setErr(err)
	}
	return d.firstErr()
}

func (d *markdownDoc) enqueue(ctx context.Context, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDocumentClosed
	}
	if err := d.firstErr(); err != nil {
		return err
	}
	select {
	case d.writes <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *markdownDoc) loop() {
	defer close(d.done)
	for fn := range d.writes {
		if d.firstErr() != nil {
			continue
		}
		if err := fn(); err != nil {
			d.setErr(err)
		}
	}
}

func (d *markdownDoc) setErr(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.err == nil {
		d.err = err
	}
}

func (d *markdownDoc) firstErr() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

func (d *markdownDoc) writeTable(idx int, t classify.Table) error {
	var b strings.Builder
	if t.Units != "" {
		fmt.Fprintf(&b, "***Units: %s***\n\n", t.Units)
	}
	writeMarkdownTable(&b, t.Headers, t.Rows)
	b.WriteString("\n")
	if _, err := d.w.WriteString(b.String()); err != nil {
		return err
	}
	return d.writeCSV(idx, t)
}

func (d *markdownDoc) writeRawTable(f classify.Fragment) error {
	rows := f.Rows()
	if len(rows) == 0 {
		return nil
	}
	var b strings.Builder
	writeMarkdownTable(&b, rows[0], rows[1:])
	b.WriteString("\n")
	_, err := d.w.WriteString(b.String())
	return err
}

func (d *markdownDoc) writeCSV(idx int, t classify.Table) error {
	path := filepath.Join(d.dir, fmt.Sprintf("%s_table%d.csv", d.base, idx))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating table csv: %w", err)
	}
	w := csv.NewWriter(f)
	if len(t.Headers) > 0 {
		if err := w.Write(t.Headers); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.WriteAll(t.Rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeMarkdownTable(b *strings.Builder, headers []string, rows [][]string) {
	width := len(headers)
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width == 0 {
		return
	}
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "|", `\|`)
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range rows {
		writeRow(r)
	}
}
