package filing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kiranshivaraju/raven/internal/classify"
	"github.com/kiranshivaraju/raven/internal/retry"
	"github.com/kiranshivaraju/raven/internal/store"
	"github.com/kiranshivaraju/raven/internal/worker"
	"github.com/kiranshivaraju/raven/pkg/models"
)

const transcriptParagraph = 2000

// Classifier is the subset of classify.Reasoner the processor needs.
type Classifier interface {
	ClassifyAll(ctx context.Context, tasks []classify.Task, k int) []classify.Outcome[classify.Verdict]
	FormatTable(ctx context.Context, f classify.Fragment) (classify.Table, error)
	CostSummary() string
}

// JobUpdater records output locations on the job record.
type JobUpdater interface {
	Update(ctx context.Context, jobID string, opts ...store.UpdateOption) (*models.Job, error)
}

// Dependencies holds the collaborators of a Processor. Transcripts may be nil.
type Dependencies struct {
	Source      Source
	Transcripts TranscriptSource
	Splitter    Splitter
	Sink        Sink
	Folders     Folders
	Classifier  Classifier
	Jobs        JobUpdater
}

// Processor is the worker handler for filing jobs.
type Processor struct {
	deps    Dependencies
	workers int
	window  int
}

// NewProcessor creates a processor that keeps at most workers provider
// calls in flight and gives each fragment window neighbours of context.
func NewProcessor(deps Dependencies, workers, window int) *Processor {
	if deps.Splitter == nil {
		deps.Splitter = TextSplitter{}
	}
	if workers < 1 {
		workers = 1
	}
	if window < 0 {
		window = classify.DefaultWindow
	}
	return &Processor{deps: deps, workers: workers, window: window}
}

// Stats summarises one processed filing.
type Stats struct {
	Fragments int
	Relevant  int
	Errors    int
	Failed    int
}

// Process runs one job. It matches worker.Handler.
func (p *Processor) Process(ctx context.Context, job *models.Job) error {
	var req models.ProcessRequest
	if err := json.Unmarshal(job.Request, &req); err != nil {
		return retry.Permanent(fmt.Errorf("decoding request: %w", err))
	}
	if req.Quarter == nil {
		return retry.Permanent(errors.New("request has no quarter"))
	}
	ticker, year, quarter := strings.ToUpper(req.Ticker), req.Year, *req.Quarter
	log := slog.With("job_id", job.JobID, "ticker", ticker, "year", year, "quarter", quarter)

	worker.ReportProgress(ctx, "resolve_folder")
	folder, err := p.deps.Folders.Resolve(ctx, ticker, year, quarter)
	if err != nil {
		return err
	}

	if req.IncludeTranscript && p.deps.Transcripts != nil {
		p.saveTranscript(ctx, log, job.JobID, folder, ticker, year, quarter)
	}

	worker.ReportProgress(ctx, fmt.Sprintf("quarter_%d", quarter))
	filing, err := p.deps.Source.Fetch(ctx, ticker, year, quarter)
	if errors.Is(err, ErrNoFiling) {
		return retry.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("fetching filing: %w", err)
	}

	title := fmt.Sprintf("%s %d Q%d - %s", ticker, year, quarter, filing.Form)
	url, stats, err := p.writeFiling(ctx, folder, title, filing)
	if err != nil {
		return err
	}

	if _, err := p.deps.Jobs.Update(ctx, job.JobID, store.WithFilingURL(url)); err != nil {
		return fmt.Errorf("recording filing url: %w", err)
	}
	log.Info("filing processed",
		"fragments", stats.Fragments,
		"relevant", stats.Relevant,
		"error_verdicts", stats.Errors,
		"failed", stats.Failed,
		"url", url,
		"cost", p.deps.Classifier.CostSummary(),
	)
	return nil
}

func (p *Processor) writeFiling(ctx context.Context, folder, title string, f Filing) (string, Stats, error) {
	worker.ReportProgress(ctx, "split")
	fragments := p.deps.Splitter.Split(f)
	stats := Stats{Fragments: len(fragments)}

	worker.ReportProgress(ctx, "classify")
	tasks := classify.BuildTasks(fragments, p.window)
	outcomes := p.deps.Classifier.ClassifyAll(ctx, tasks, p.workers)
	if err := ctx.Err(); err != nil {
		return "", stats, err
	}

	var keep []classify.Fragment
	var keepIdx []int
	for i, o := range outcomes {
		switch {
		case o.Err != nil:
			stats.Failed++
		case o.Value.Relevant == classify.RelevanceError:
			stats.Errors++
		case o.Value.Actionable():
			keep = append(keep, fragments[i])
			keepIdx = append(keepIdx, i)
		}
	}
	stats.Relevant = len(keep)
	if len(outcomes) > 0 && stats.Failed == len(outcomes) {
		return "", stats, fmt.Errorf("all %d classifications failed: %w", stats.Failed, outcomes[0].Err)
	}

	// Relevant tables get a second, formatting call.
	tables := classify.Fanout(ctx, keep, p.workers, func(ctx context.Context, _ int, frag classify.Fragment) (*classify.Table, error) {
		if frag.Kind != classify.KindTable {
			return nil, nil
		}
		t, err := p.deps.Classifier.FormatTable(ctx, frag)
		if err != nil {
			return nil, err
		}
		if len(t.Headers) == 0 {
			return nil, nil
		}
		return &t, nil
	})

	worker.ReportProgress(ctx, "write_document")
	doc, err := p.deps.Sink.Open(ctx, folder, title)
	if err != nil {
		return "", stats, fmt.Errorf("opening document: %w", err)
	}
	for n, frag := range keep {
		e := Entry{Index: keepIdx[n], Fragment: frag}
		if frag.Kind == classify.KindTable {
			if tables[n].Err != nil || tables[n].Value == nil {
				slog.Warn("skipping table that could not be formatted", "index", keepIdx[n], "error", tables[n].Err)
				continue
			}
			e.Table = tables[n].Value
		}
		if err := doc.Append(ctx, e); err != nil {
			doc.Close()
			return "", stats, fmt.Errorf("writing document: %w", err)
		}
	}
	if err := doc.Close(); err != nil {
		return "", stats, fmt.Errorf("closing document: %w", err)
	}
	return doc.URL(), stats, nil
}

// saveTranscript writes the call transcript to its own document. Failures
// are logged and do not fail the job.
func (p *Processor) saveTranscript(ctx context.Context, log *slog.Logger, jobID, folder, ticker string, year, quarter int) {
	worker.ReportProgress(ctx, "fetch_transcript")
	t, err := p.deps.Transcripts.Fetch(ctx, ticker, year, quarter)
	if errors.Is(err, ErrNoTranscript) {
		log.Info("no transcript found")
		return
	}
	if err != nil {
		log.Warn("transcript fetch failed", "error", err)
		return
	}

	title := fmt.Sprintf("%s %d Q%d - TRANSCRIPT", ticker, year, quarter)
	worker.ReportProgress(ctx, "create_transcript_doc")
	doc, err := p.deps.Sink.Open(ctx, folder, title)
	if err != nil {
		log.Warn("creating transcript document failed", "error", err)
		return
	}

	date := t.Date
	if date == "" {
		date = "N/A"
	}
	if _, err := p.deps.Jobs.Update(ctx, jobID, store.WithTranscript(doc.URL(), date)); err != nil {
		log.Warn("recording transcript url failed", "error", err)
	}

	worker.ReportProgress(ctx, "write_header")
	entries := []string{"Date: " + date}
	entries = append(entries, wrapText(t.Text, transcriptParagraph)...)
	for i, text := range entries {
		err := doc.Append(ctx, Entry{Index: i, Fragment: classify.Fragment{Kind: classify.KindParagraph, Text: text}})
		if err != nil {
			log.Warn("writing transcript failed", "error", err)
			break
		}
	}
	if err := doc.Close(); err != nil {
		log.Warn("closing transcript document failed", "error", err)
	}
}

// wrapText splits text into chunks of at most width bytes on word
// boundaries. Words longer than width are kept whole.
func wrapText(text string, width int) []string {
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > width {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
