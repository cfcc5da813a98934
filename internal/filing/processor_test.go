package filing

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/raven/internal/classify"
	"github.com/kiranshivaraju/raven/internal/store"
	"github.com/kiranshivaraju/raven/pkg/models"
)

type fakeClassifier struct {
	verdict   func(t classify.Task) (classify.Verdict, error)
	table     classify.Table
	tableErr  error
	formatted atomic.Int32
}

func (f *fakeClassifier) ClassifyAll(ctx context.Context, tasks []classify.Task, k int) []classify.Outcome[classify.Verdict] {
	return classify.Fanout(ctx, tasks, k, func(ctx context.Context, _ int, t classify.Task) (classify.Verdict, error) {
		return f.verdict(t)
	})
}

func (f *fakeClassifier) FormatTable(ctx context.Context, frag classify.Fragment) (classify.Table, error) {
	f.formatted.Add(1)
	return f.table, f.tableErr
}

func (f *fakeClassifier) CostSummary() string { return "fake calls:0" }

// relevantIfMentions marks fragments mentioning word as relevant, fragments
// containing "garbled" as error verdicts and everything else as not relevant.
func relevantIfMentions(word string) func(classify.Task) (classify.Verdict, error) {
	return func(t classify.Task) (classify.Verdict, error) {
		switch {
		case strings.Contains(t.Fragment.Text, "garbled"):
			return classify.Verdict{Relevant: classify.RelevanceError, Why: "invalid JSON"}, nil
		case strings.Contains(t.Fragment.Text, word):
			return classify.Verdict{Relevant: classify.RelevanceYes, Why: "mentions " + word}, nil
		}
		return classify.Verdict{Relevant: classify.RelevanceNo}, nil
	}
}

const sampleFiling = "Boilerplate about the company.\n\n" +
	"Revenue increased 12% driven by services.\n\n" +
	"Segment | Revenue\niPhone | 200\nMac | 30\n\n" +
	"garbled paragraph with Revenue mention.\n\n" +
	"Risk factors are unchanged.\n\n" +
	"Revenue outlook for next quarter is stable."

type fixture struct {
	root       string
	out        string
	store      *store.JobStore
	classifier *fakeClassifier
	processor  *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(root, "AAPL", "2024_Q1_10-Q.txt"), sampleFiling)
	writeFile(t, filepath.Join(root, "AAPL", "2024_Q1_transcript.txt"), "Date: 2024-02-01\nWelcome to the call. "+strings.Repeat("word ", 500))

	s := store.NewJobStore(store.NewMemoryBackend())
	c := &fakeClassifier{
		verdict: relevantIfMentions("Revenue"),
		table: classify.Table{
			Units:   "USD billions",
			Headers: []string{"Segment", "Revenue"},
			Rows:    [][]string{{"iPhone", "200"}, {"Mac", "30"}},
		},
	}
	p := NewProcessor(Dependencies{
		Source:      DirSource{Root: root},
		Transcripts: DirTranscripts{Root: root},
		Sink:        DirSink{Root: out},
		Folders:     NewFolderCache(DirFolders{Root: out}),
		Classifier:  c,
		Jobs:        s,
	}, 4, classify.DefaultWindow)

	return &fixture{root: root, out: out, store: s, classifier: c, processor: p}
}

func (f *fixture) job(t *testing.T, req models.ProcessRequest) *models.Job {
	t.Helper()
	job, err := f.store.Create(context.Background(), "AAPL_2024_Q1_test", req, "test")
	require.NoError(t, err)
	return job
}

func quarterPtr(q int) *int { return &q }

func TestProcessor_WritesRelevantFragmentsInOrder(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, models.ProcessRequest{Ticker: "aapl", Year: 2024, Quarter: quarterPtr(1)})

	require.NoError(t, f.processor.Process(context.Background(), job))

	doc := filepath.Join(f.out, "AAPL", "2024", "Q1", "AAPL_2024_Q1_-_10Q.md")
	body, err := os.ReadFile(doc)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "# AAPL 2024 Q1 - 10Q")
	first := strings.Index(text, "Revenue increased 12%")
	table := strings.Index(text, "***Units: USD billions***")
	last := strings.Index(text, "Revenue outlook")
	require.True(t, first > 0 && table > 0 && last > 0, text)
	assert.Less(t, first, table)
	assert.Less(t, table, last)
	assert.NotContains(t, text, "Boilerplate")
	assert.NotContains(t, text, "garbled")
	assert.Equal(t, int32(1), f.classifier.formatted.Load())

	rec, ok, err := f.store.Load(context.Background(), job.JobID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.FilingURL)
	assert.Equal(t, "file://"+filepath.ToSlash(doc), *rec.FilingURL)
	assert.Nil(t, rec.TranscriptURL)
}

func TestProcessor_SkipsTablesThatFailFormatting(t *testing.T) {
	f := newFixture(t)
	f.classifier.tableErr = classify.ErrMalformedTable
	job := f.job(t, models.ProcessRequest{Ticker: "AAPL", Year: 2024, Quarter: quarterPtr(1)})

	require.NoError(t, f.processor.Process(context.Background(), job))

	body, err := os.ReadFile(filepath.Join(f.out, "AAPL", "2024", "Q1", "AAPL_2024_Q1_-_10Q.md"))
	require.NoError(t, err)
	assert.NotContains(t, string(body), "Units:")
	assert.Contains(t, string(body), "Revenue outlook")
}

func TestProcessor_Transcript(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, models.ProcessRequest{Ticker: "AAPL", Year: 2024, Quarter: quarterPtr(1), IncludeTranscript: true})

	require.NoError(t, f.processor.Process(context.Background(), job))

	rec, _, err := f.store.Load(context.Background(), job.JobID)
	require.NoError(t, err)
	require.NotNil(t, rec.TranscriptURL)
	require.NotNil(t, rec.TranscriptDate)
	assert.Equal(t, "2024-02-01", *rec.TranscriptDate)
	assert.True(t, strings.HasSuffix(*rec.TranscriptURL, "AAPL_2024_Q1_-_TRANSCRIPT.md"))

	body, err := os.ReadFile(filepath.Join(f.out, "AAPL", "2024", "Q1", "AAPL_2024_Q1_-_TRANSCRIPT.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "Date: 2024-02-01")
	assert.Contains(t, string(body), "Welcome to the call.")
}

func TestProcessor_MissingTranscriptDoesNotFailJob(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.root, "AAPL", "2024_Q1_transcript.txt")))
	job := f.job(t, models.ProcessRequest{Ticker: "AAPL", Year: 2024, Quarter: quarterPtr(1), IncludeTranscript: true})

	require.NoError(t, f.processor.Process(context.Background(), job))

	rec, _, err := f.store.Load(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Nil(t, rec.TranscriptURL)
	assert.NotNil(t, rec.FilingURL)
}

func TestProcessor_MissingFilingIsPermanent(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, models.ProcessRequest{Ticker: "AAPL", Year: 2024, Quarter: quarterPtr(3)})

	err := f.processor.Process(context.Background(), job)
	assert.ErrorIs(t, err, ErrNoFiling)
}

func TestProcessor_AllClassificationsFailed(t *testing.T) {
	f := newFixture(t)
	f.classifier.verdict = func(classify.Task) (classify.Verdict, error) {
		return classify.Verdict{}, errors.New("provider unavailable")
	}
	job := f.job(t, models.ProcessRequest{Ticker: "AAPL", Year: 2024, Quarter: quarterPtr(1)})

	err := f.processor.Process(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 6 classifications failed")

	rec, _, lerr := f.store.Load(context.Background(), job.JobID)
	require.NoError(t, lerr)
	assert.Nil(t, rec.FilingURL)
}

func TestProcessor_BadRequest(t *testing.T) {
	f := newFixture(t)

	err := f.processor.Process(context.Background(), &models.Job{JobID: "x", Request: json.RawMessage(`"not an object"`)})
	assert.ErrorContains(t, err, "decoding request")

	err = f.processor.Process(context.Background(), &models.Job{JobID: "x", Request: json.RawMessage(`{"ticker":"AAPL","year":2024}`)})
	assert.ErrorContains(t, err, "no quarter")
}

func TestWrapText(t *testing.T) {
	chunks := wrapText("alpha beta gamma delta", 11)
	assert.Equal(t, []string{"alpha beta", "gamma delta"}, chunks)
	assert.Empty(t, wrapText("   ", 10))
}
