package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/raven/internal/retry"
	"github.com/kiranshivaraju/raven/pkg/models"
)

// Throttler admits a request of the given weight, blocking as needed.
type Throttler interface {
	Throttle(ctx context.Context, weight int) error
}

// Usage accumulates provider accounting across calls.
type Usage struct {
	Calls            int
	PromptTokens     int
	CompletionTokens int
	Elapsed          time.Duration
}

// Reasoner classifies fragments through a rate-limited provider.
type Reasoner struct {
	provider models.AIProvider
	limiter  Throttler
	policy   retry.Policy
	observe  func(Relevance)

	mu    sync.Mutex
	usage Usage
}

// ReasonerOption configures a Reasoner.
type ReasonerOption func(*Reasoner)

// WithPolicy replaces the retry policy for provider calls.
func WithPolicy(p retry.Policy) ReasonerOption {
	return func(r *Reasoner) { r.policy = p }
}

// WithVerdictObserver is called once per classified fragment.
func WithVerdictObserver(fn func(Relevance)) ReasonerOption {
	return func(r *Reasoner) { r.observe = fn }
}

func NewReasoner(provider models.AIProvider, limiter Throttler, opts ...ReasonerOption) *Reasoner {
	r := &Reasoner{
		provider: provider,
		limiter:  limiter,
		policy:   retry.RemotePolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify asks the provider whether the task's fragment is relevant.
// Provider failures are retried; once attempts are exhausted the error is
// returned. Malformed answers are not errors: they yield an error verdict.
func (r *Reasoner) Classify(ctx context.Context, t Task) (Verdict, error) {
	text, err := r.complete(ctx, BuildPrompt(t), "classify")
	if err != nil {
		return Verdict{}, err
	}
	v := ParseVerdict(text)
	if v.Relevant == RelevanceError {
		slog.Warn("unusable verdict from provider", "index", t.Index, "why", v.Why)
	}
	if r.observe != nil {
		r.observe(v.Relevant)
	}
	return v, nil
}

// FormatTable asks the provider to normalise a relevant table.
func (r *Reasoner) FormatTable(ctx context.Context, f Fragment) (Table, error) {
	prompt := models.Prompt{
		System: tableFormatSystem,
		User:   joinRows(f.Rows(), tableFormatMax),
		JSON:   true,
	}
	text, err := r.complete(ctx, prompt, "format_table")
	if err != nil {
		return Table{}, err
	}
	return ParseTable(text)
}

func (r *Reasoner) complete(ctx context.Context, prompt models.Prompt, op string) (string, error) {
	weight := EstimateWeight(prompt)

	var completion models.Completion
	err := retry.Do(ctx, r.policy, func(ctx context.Context, _ int) error {
		if err := r.limiter.Throttle(ctx, weight); err != nil {
			return retry.Permanent(err)
		}
		start := time.Now()
		c, err := r.provider.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		r.record(prompt, c, time.Since(start))
		completion = c
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		slog.Warn("provider call failed, retrying",
			"provider", r.provider.Name(),
			"op", op,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"retry_in", wait,
			"error", err,
		)
	})
	if err != nil {
		slog.Error("provider call failed", "provider", r.provider.Name(), "op", op, "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return completion.Text, nil
}

func (r *Reasoner) record(p models.Prompt, c models.Completion, elapsed time.Duration) {
	pt := c.PromptTokens
	if pt == 0 {
		pt = EstimateWeight(p) - 150
	}
	ct := c.CompletionTokens
	if ct == 0 {
		ct = roughTokens(c.Text)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage.Calls++
	r.usage.PromptTokens += pt
	r.usage.CompletionTokens += ct
	r.usage.Elapsed += elapsed
}

// Usage returns the accumulated accounting.
func (r *Reasoner) Usage() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

// CostSummary renders Usage as a single log-friendly line.
func (r *Reasoner) CostSummary() string {
	u := r.Usage()
	return fmt.Sprintf("%s calls:%d P:%d C:%d T:%.1fs",
		r.provider.Name(), u.Calls, u.PromptTokens, u.CompletionTokens, u.Elapsed.Seconds())
}
