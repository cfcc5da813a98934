package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/raven/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(c *fakeClock, rpm, tpm int) *ratelimit.Limiter {
	return ratelimit.New(rpm, tpm, time.Minute,
		ratelimit.WithClock(c.Now), ratelimit.WithSleeper(c.Sleep))
}

func TestThrottle_ThirdRequestWaitsFullWindow(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c, 2, 50)
	ctx := context.Background()
	start := c.Now()

	require.NoError(t, l.Throttle(ctx, 10))
	require.NoError(t, l.Throttle(ctx, 10))
	assert.Empty(t, c.sleeps)

	require.NoError(t, l.Throttle(ctx, 10))
	assert.Equal(t, 60*time.Second, c.Now().Sub(start))
}

func TestThrottle_SecondRequestOverUnitBudgetWaitsFullWindow(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c, 2, 50)
	ctx := context.Background()
	start := c.Now()

	require.NoError(t, l.Throttle(ctx, 30))
	assert.Empty(t, c.sleeps)

	require.NoError(t, l.Throttle(ctx, 30))
	assert.Equal(t, []time.Duration{60 * time.Second}, c.sleeps)
	assert.Equal(t, 60*time.Second, c.Now().Sub(start))
	assert.Equal(t, ratelimit.Stats{Requests: 1, Units: 30}, l.Stats())
}

func TestThrottle_UnitBudget(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c, 100, 50)
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, 30))
	c.Advance(10 * time.Second)
	require.NoError(t, l.Throttle(ctx, 15))
	c.Advance(5 * time.Second)

	// 45 units used; 20 more only fits once the first entry expires at t=60s.
	require.NoError(t, l.Throttle(ctx, 20))
	require.Len(t, c.sleeps, 1)
	assert.Equal(t, 45*time.Second, c.sleeps[0])

	stats := l.Stats()
	assert.Equal(t, 2, stats.Requests)
	assert.Equal(t, 35, stats.Units)
}

func TestThrottle_OversizedRequestAdmittedImmediately(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c, 10, 50)
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, 40))
	require.NoError(t, l.Throttle(ctx, 500))
	assert.Empty(t, c.sleeps)
	assert.Equal(t, 540, l.Stats().Units)
}

func TestThrottle_OversizedStillRespectsRequestBudget(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c, 1, 50)
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, 1))
	require.NoError(t, l.Throttle(ctx, 500))
	assert.Equal(t, []time.Duration{time.Minute}, c.sleeps)
}

func TestThrottle_EvictsExpiredEntries(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c, 2, 0)
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, 1))
	require.NoError(t, l.Throttle(ctx, 1))
	c.Advance(time.Minute)
	assert.Equal(t, 0, l.Stats().Requests)

	require.NoError(t, l.Throttle(ctx, 1))
	assert.Empty(t, c.sleeps)
}

func TestThrottle_CancelledWhileWaiting(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c, 1, 0)
	require.NoError(t, l.Throttle(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Throttle(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.Stats().Requests)
}

func TestThrottle_WaitObserver(t *testing.T) {
	c := newFakeClock()
	var observed []time.Duration
	l := ratelimit.New(1, 0, time.Minute,
		ratelimit.WithClock(c.Now), ratelimit.WithSleeper(c.Sleep),
		ratelimit.WithWaitObserver(func(d time.Duration) { observed = append(observed, d) }))
	ctx := context.Background()

	require.NoError(t, l.Throttle(ctx, 1))
	require.NoError(t, l.Throttle(ctx, 1))
	assert.Equal(t, []time.Duration{0, time.Minute}, observed)
}

func TestThrottle_ConcurrentCallersNeverExceedBudget(t *testing.T) {
	l := ratelimit.New(5, 0, 200*time.Millisecond)
	ctx := context.Background()

	var mu sync.Mutex
	var admitted []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Throttle(ctx, 1))
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, admitted, 10)

	for _, a := range admitted {
		n := 0
		for _, b := range admitted {
			if !b.Before(a) && b.Sub(a) < 150*time.Millisecond {
				n++
			}
		}
		assert.LessOrEqual(t, n, 5)
	}
}
