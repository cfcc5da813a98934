// Package ratelimit implements a sliding-window limiter over two budgets:
// request count and weighted units (for example prompt tokens) per window.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/raven/internal/retry"
)

const DefaultWindow = time.Minute

type entry struct {
	at     time.Time
	weight int
}

// Limiter admits callers so that no trailing window holds more than rpm
// requests or more than tpm units. A limit of zero disables that budget.
type Limiter struct {
	rpm    int
	tpm    int
	window time.Duration

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	observe func(time.Duration)

	mu       sync.Mutex
	requests []time.Time
	units    []entry
	unitSum  int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleeper overrides the function used to wait outside the lock.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithWaitObserver is called with the total time each Throttle call waited.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) { l.observe = fn }
}

func New(rpm, tpm int, window time.Duration, opts ...Option) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		rpm:    rpm,
		tpm:    tpm,
		window: window,
		now:    time.Now,
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Throttle blocks until one request of the given weight fits in both
// windows, then records it. A weight larger than the whole unit budget is
// admitted as soon as the request budget allows and logged as an anomaly.
// It returns the context error if ctx ends while waiting.
func (l *Limiter) Throttle(ctx context.Context, weight int) error {
	if weight < 0 {
		weight = 0
	}
	oversized := l.tpm > 0 && weight > l.tpm
	if oversized {
		slog.Warn("request weight exceeds window unit limit, admitting without unit wait",
			"weight", weight, "limit", l.tpm)
	}

	start := l.now()
	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)
		wait := l.requestWait(now)
		if !oversized {
			if w := l.unitWait(now, weight); w > wait {
				wait = w
			}
		}
		if wait <= 0 {
			l.requests = append(l.requests, now)
			l.units = append(l.units, entry{at: now, weight: weight})
			l.unitSum += weight
			l.mu.Unlock()
			if l.observe != nil {
				l.observe(now.Sub(start))
			}
			return nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Stats is a point-in-time view of the windows.
type Stats struct {
	Requests int
	Units    int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return Stats{Requests: len(l.requests), Units: l.unitSum}
}

// evict drops entries at least one window old. Caller holds mu.
func (l *Limiter) evict(now time.Time) {
	i := 0
	for i < len(l.requests) && now.Sub(l.requests[i]) >= l.window {
		i++
	}
	l.requests = l.requests[i:]

	j := 0
	for j < len(l.units) && now.Sub(l.units[j].at) >= l.window {
		l.unitSum -= l.units[j].weight
		j++
	}
	l.units = l.units[j:]
}

func (l *Limiter) requestWait(now time.Time) time.Duration {
	if l.rpm <= 0 || len(l.requests) < l.rpm {
		return 0
	}
	oldest := l.requests[len(l.requests)-l.rpm]
	return oldest.Add(l.window).Sub(now)
}

func (l *Limiter) unitWait(now time.Time, weight int) time.Duration {
	if l.tpm <= 0 || l.unitSum+weight <= l.tpm {
		return 0
	}
	remaining := l.unitSum
	for _, e := range l.units {
		remaining -= e.weight
		if remaining+weight <= l.tpm {
			return e.at.Add(l.window).Sub(now)
		}
	}
	return l.window
}
