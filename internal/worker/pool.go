package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/raven/internal/retry"
	"github.com/kiranshivaraju/raven/internal/store"
	"github.com/kiranshivaraju/raven/pkg/models"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool is shut down")

const (
	msgStarted     = "Job started"
	msgCompleted   = "Job completed"
	msgInterrupted = "Interrupted by shutdown; re-queued"

	finalizeTimeout = 10 * time.Second
)

// Handler runs the body of one job. It is called once per attempt.
type Handler func(ctx context.Context, job *models.Job) error

// AttemptHook is called after every failed attempt, including the last.
type AttemptHook func(jobID string, attempt int, err error)

// Pool drains a FIFO of job ids with a fixed number of workers. Each job
// is flipped to processing, run with retries and left in a terminal state.
type Pool struct {
	store    store.Store
	registry *Registry
	handler  Handler
	size     int
	policy   retry.Policy
	notifier Notifier
	onFail   AttemptHook
	now      func() time.Time

	queue *Queue[string]

	mu      sync.Mutex
	closed  bool
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

func WithPolicy(policy retry.Policy) Option {
	return func(p *Pool) { p.policy = policy }
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pool) { p.policy.Sleep = sleep }
}

func WithNotifier(n Notifier) Option {
	return func(p *Pool) { p.notifier = n }
}

func WithAttemptHook(h AttemptHook) Option {
	return func(p *Pool) { p.onFail = h }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a pool. Call Start to launch the workers.
func New(s store.Store, r *Registry, h Handler, opts ...Option) *Pool {
	p := &Pool{
		store:    s,
		registry: r,
		handler:  h,
		size:     2,
		policy:   retry.WorkerPolicy(),
		notifier: MultiNotifier(nil),
		now:      time.Now,
		queue:    NewQueue[string](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Cancelling ctx has the same effect on
// in-flight jobs as Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work()
	}
	slog.Info("worker pool started", "workers", p.size)
}

// Submit tracks job in the registry and enqueues it. It never blocks.
func (p *Pool) Submit(job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.registry.Track(job)
	if !p.queue.Push(job.JobID) {
		return ErrPoolClosed
	}
	return nil
}

// Pending returns the number of jobs waiting for a worker.
func (p *Pool) Pending() int { return p.queue.Len() }

// Recover re-enqueues every durable record left queued by a previous run.
// Records left processing are reported but not resumed.
func (p *Pool) Recover(ctx context.Context) (int, error) {
	jobs, err := p.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing jobs for recovery: %w", err)
	}
	n := 0
	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusQueued:
			if err := p.Submit(job); err != nil {
				return n, err
			}
			n++
		case models.JobStatusProcessing:
			slog.Warn("job was processing when the previous run stopped; not resuming", "job_id", job.JobID)
		}
	}
	return n, nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for the
// workers to exit or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	p.queue.Close()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		jobID, err := p.queue.Pop(p.ctx)
		if err != nil {
			return
		}
		p.run(jobID)
	}
}

func (p *Pool) run(jobID string) {
	ctx := p.ctx
	log := slog.With("job_id", jobID)

	job, err := p.markProcessing(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			log.Warn("dropping job with no durable record")
		case errors.Is(err, store.ErrInvalidTransition):
			log.Warn("skipping job that is no longer queued", "error", err)
		case ctx.Err() != nil:
			// Still queued durably; Recover picks it up on the next start.
			log.Info("job not started before shutdown", "error", err)
		default:
			log.Error("failed to mark job processing", "error", err)
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
			defer cancel()
			p.finish(fctx, jobID, models.JobStatusFailed, "could not start: "+failureMessage(err), true)
		}
		return
	}

	p.registry.set(job)
	p.registry.setActive(jobID, true)
	defer p.registry.setActive(jobID, false)
	p.notifier.JobStatusChanged(ctx, job)

	start := p.now()
	log.Info("job started")

	runCtx := withProgress(ctx, jobID, p)
	err = retry.Do(runCtx, p.policy, func(ctx context.Context, attempt int) error {
		return p.invoke(ctx, job)
	}, func(err error, attempt int, wait time.Duration) {
		log.Warn("job attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if p.onFail != nil {
			p.onFail(jobID, attempt, err)
		}
		if lerr := p.store.AppendLog(ctx, jobID, fmt.Sprintf("attempt %d failed: %v", attempt, err)); lerr != nil {
			log.Warn("failed to append job log", "error", lerr)
		}
	})

	// Finalize even when the pool is being torn down.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err != nil && ctx.Err() != nil {
		p.finish(fctx, jobID, models.JobStatusQueued, msgInterrupted, false)
		log.Info("job interrupted by shutdown", "error", err)
		return
	}

	if err != nil {
		if p.onFail != nil {
			p.onFail(jobID, p.policy.MaxAttempts, err)
		}
		p.finish(fctx, jobID, models.JobStatusFailed, failureMessage(err), true)
		log.Error("job failed", "error", err, "duration", p.now().Sub(start))
		return
	}
	p.finish(fctx, jobID, models.JobStatusCompleted, msgCompleted, true)
	log.Info("job completed", "duration", p.now().Sub(start))
}

// markProcessing moves a queued record to processing, retrying storage
// failures under the pool policy.
func (p *Pool) markProcessing(ctx context.Context, jobID string) (*models.Job, error) {
	var job *models.Job
	err := retry.Do(ctx, p.policy, func(ctx context.Context, _ int) error {
		j, err := p.store.Update(ctx, jobID,
			store.WithStatus(models.JobStatusProcessing),
			store.WithStarted(p.now()),
			store.WithMessage(msgStarted),
		)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		job = j
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		slog.Warn("failed to mark job processing, retrying", "job_id", jobID, "attempt", attempt, "wait", wait, "error", err)
	})
	return job, err
}

func (p *Pool) invoke(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler(ctx, job.Clone())
}

func (p *Pool) finish(ctx context.Context, jobID, status, msg string, terminal bool) {
	opts := []store.UpdateOption{store.WithStatus(status), store.WithMessage(msg)}
	if terminal {
		opts = append(opts, store.WithCompleted(p.now()))
	}
	job, err := p.store.Update(ctx, jobID, opts...)
	if err != nil {
		slog.Error("failed to persist job status", "job_id", jobID, "status", status, "error", err)
		// Keep the registry honest about what happened even if the record
		// could not be written.
		if cur, ok := p.registry.Get(jobID); ok {
			cur.Status = status
			cur.Message = msg
			p.registry.set(cur)
		}
		return
	}
	p.registry.set(job)
	p.notifier.JobStatusChanged(ctx, job)
}

// failureMessage renders the innermost error's type with the full message.
// Anonymous error values are shown as plain "error".
func failureMessage(err error) string {
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	name := fmt.Sprintf("%T", inner)
	if plain, ok := plainErrorTypes[name]; ok {
		name = plain
	}
	return fmt.Sprintf("%s: %v", name, err)
}

// plainErrorTypes renames the unexported types behind errors.New and
// fmt.Errorf without %w.
var plainErrorTypes = map[string]string{
	"*errors.errorString": "error",
	"*fmt.wrapError":      "error",
}
