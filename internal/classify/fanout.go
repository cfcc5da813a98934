package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Outcome is the result for the item at Index. Exactly one of Value and
// Err is meaningful.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// Fanout runs fn for every item with at most k calls in flight and waits for
// all of them. A failing or panicking item does not affect its siblings.
// Outcomes are returned in input order.
func Fanout[T, R any](ctx context.Context, items []T, k int, fn func(ctx context.Context, i int, item T) (R, error)) []Outcome[R] {
	if k < 1 {
		k = 1
	}
	sem := semaphore.NewWeighted(int64(k))
	out := make([]Outcome[R], len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i].Index = i

			if err := sem.Acquire(ctx, 1); err != nil {
				out[i].Err = err
				return
			}
			defer sem.Release(1)

			defer func() {
				if r := recover(); r != nil {
					out[i].Err = fmt.Errorf("panic: %v", r)
				}
			}()
			out[i].Value, out[i].Err = fn(ctx, i, item)
		}()
	}
	wg.Wait()
	return out
}

// ClassifyAll classifies every task with at most k provider calls in flight.
func (r *Reasoner) ClassifyAll(ctx context.Context, tasks []Task, k int) []Outcome[Verdict] {
	return Fanout(ctx, tasks, k, func(ctx context.Context, _ int, t Task) (Verdict, error) {
		v, err := r.Classify(ctx, t)
		if err != nil {
			slog.Error("classification failed", "index", t.Index, "kind", t.Fragment.Kind, "error", err)
			return Verdict{}, err
		}
		slog.Debug("classified fragment",
			"index", t.Index,
			"kind", t.Fragment.Kind,
			"relevant", v.Relevant,
			"why", truncate(v.Why, 60),
		)
		return v, nil
	})
}
