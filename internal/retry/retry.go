// Package retry runs an operation a bounded number of times with
// exponentially growing, optionally jittered, delays between attempts.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how many attempts to make and how long to wait between
// them. The wait after attempt n (1-based) is
// min(Initial * Multiplier^(n-1), Max) plus a uniform jitter in [0, Jitter).
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      time.Duration

	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, 1) for jitter. Nil means math/rand/v2.
	Rand func() float64
}

// WorkerPolicy is the job-level policy: three attempts, waiting 1s then 2s.
func WorkerPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     time.Second,
		Max:         time.Minute,
		Multiplier:  2,
	}
}

// RemotePolicy is used for calls to the reasoning provider: three attempts,
// waiting min(2^n, 60) seconds plus up to one second of jitter.
func RemotePolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     time.Second,
		Max:         time.Minute,
		Multiplier:  2,
		Jitter:      time.Second,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Notify is called after a failed attempt that will be retried.
type Notify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a permanent error, the context is
// done, or MaxAttempts is reached. It returns the last error unwrapped.
// There is no wait after the final attempt.
func Do(ctx context.Context, p Policy, op Operation, notify Notify) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delays := p.newBackOff()
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return err
		}

		wait := delays.NextBackOff() + p.jitter()
		if notify != nil {
			notify(err, attempt, wait)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

// Delays returns the waits Do would use between attempts, ignoring jitter.
func (p Policy) Delays() []time.Duration {
	b := p.newBackOff()
	var out []time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	if p.Max <= 0 {
		b.MaxInterval = p.Initial
	}
	b.Multiplier = p.Multiplier
	if p.Multiplier <= 0 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p Policy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(r() * float64(p.Jitter))
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
