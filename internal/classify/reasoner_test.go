package classify_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/raven/internal/ai/mock"
	"github.com/kiranshivaraju/raven/internal/classify"
	"github.com/kiranshivaraju/raven/internal/retry"
	"github.com/kiranshivaraju/raven/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLimiter struct {
	mu      sync.Mutex
	weights []int
	err     error
}

func (f *fakeLimiter) Throttle(_ context.Context, weight int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weights = append(f.weights, weight)
	return f.err
}

func (f *fakeLimiter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.weights)
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func testPolicy(s *recordingSleeper) retry.Policy {
	p := retry.RemotePolicy()
	p.Sleep = s.Sleep
	p.Rand = func() float64 { return 0 }
	return p
}

func oneTask() classify.Task {
	return classify.BuildTasks([]classify.Fragment{{Kind: classify.KindParagraph, Text: "x"}}, 5)[0]
}

func TestClassify_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	provider := &mock.MockProvider{
		Name_: "flaky",
		CompleteFunc: func(context.Context, models.Prompt) (models.Completion, error) {
			if attempts.Add(1) < 3 {
				return models.Completion{}, errors.New("fail")
			}
			return models.Completion{Text: `{"relevant":"no","why":"ok"}`}, nil
		},
	}
	lim := &fakeLimiter{}
	s := &recordingSleeper{}
	r := classify.NewReasoner(provider, lim, classify.WithPolicy(testPolicy(s)))

	v, err := r.Classify(context.Background(), oneTask())
	require.NoError(t, err)
	assert.Equal(t, classify.RelevanceNo, v.Relevant)
	assert.Equal(t, "ok", v.Why)
	assert.EqualValues(t, 3, attempts.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.waits)
	assert.Equal(t, 3, lim.calls())
}

func TestClassify_ExhaustedAttemptsFail(t *testing.T) {
	provider := mock.NewFailingProvider(errors.New("provider down"))
	s := &recordingSleeper{}
	r := classify.NewReasoner(provider, &fakeLimiter{}, classify.WithPolicy(testPolicy(s)))

	_, err := r.Classify(context.Background(), oneTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
	assert.Equal(t, 3, provider.Calls())
	assert.Len(t, s.waits, 2)
}

func TestClassify_LimiterCancellationIsNotRetried(t *testing.T) {
	provider := mock.NewMockProvider()
	lim := &fakeLimiter{err: context.Canceled}
	r := classify.NewReasoner(provider, lim, classify.WithPolicy(testPolicy(&recordingSleeper{})))

	_, err := r.Classify(context.Background(), oneTask())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, provider.Calls())
	assert.Equal(t, 1, lim.calls())
}

func TestClassify_MalformedIsVerdictNotError(t *testing.T) {
	var observed []classify.Relevance
	r := classify.NewReasoner(mock.NewTextProvider("oops"), &fakeLimiter{},
		classify.WithVerdictObserver(func(rel classify.Relevance) { observed = append(observed, rel) }))

	v, err := r.Classify(context.Background(), oneTask())
	require.NoError(t, err)
	assert.Equal(t, classify.RelevanceError, v.Relevant)
	assert.Equal(t, "oops", v.Raw)
	assert.Equal(t, []classify.Relevance{classify.RelevanceError}, observed)
}

func TestClassify_ThrottlesWithEstimatedWeight(t *testing.T) {
	lim := &fakeLimiter{}
	r := classify.NewReasoner(mock.NewMockProvider(), lim)
	task := oneTask()

	_, err := r.Classify(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, 1, lim.calls())
	assert.Equal(t, classify.EstimateWeight(classify.BuildPrompt(task)), lim.weights[0])
}

func TestReasoner_UsageAndCostSummary(t *testing.T) {
	provider := &mock.MockProvider{
		Name_: "acct",
		CompleteFunc: func(context.Context, models.Prompt) (models.Completion, error) {
			return models.Completion{Text: `{"relevant":"yes"}`, PromptTokens: 100, CompletionTokens: 5}, nil
		},
	}
	r := classify.NewReasoner(provider, &fakeLimiter{})
	for i := 0; i < 3; i++ {
		_, err := r.Classify(context.Background(), oneTask())
		require.NoError(t, err)
	}

	u := r.Usage()
	assert.Equal(t, 3, u.Calls)
	assert.Equal(t, 300, u.PromptTokens)
	assert.Equal(t, 15, u.CompletionTokens)
	assert.Contains(t, r.CostSummary(), "acct calls:3 P:300 C:15")
}

func TestFormatTable(t *testing.T) {
	provider := mock.NewTextProvider(`{"title":"Balance sheet","units":"USD","headers":["Item","2024"],"rows":[["Cash","5"]]}`)
	r := classify.NewReasoner(provider, &fakeLimiter{})

	tbl, err := r.FormatTable(context.Background(), classify.Fragment{Kind: classify.KindTable, Text: "Item | 2024\nCash | 5"})
	require.NoError(t, err)
	assert.Equal(t, "Balance sheet", tbl.Title)
	assert.Equal(t, [][]string{{"Cash", "5"}}, tbl.Rows)

	prompts := provider.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].System, "structured data")
	assert.Equal(t, "Item | 2024\nCash | 5", prompts[0].User)
}
