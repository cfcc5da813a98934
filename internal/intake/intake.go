// Package intake turns API submissions into durable, queued jobs and builds
// the merged job view served to clients.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/raven/internal/store"
	"github.com/kiranshivaraju/raven/internal/worker"
	"github.com/kiranshivaraju/raven/pkg/models"
)

const (
	// First year with electronic filings on record.
	minYear = 1994

	defaultOrigin = "api"
	queuedMessage = "Job queued"
	cachedMessage = "Job record unavailable; status from cache"
)

var ErrValidation = errors.New("validation failed")

// ValidationError describes a rejected submission field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Submitter hands a created job to the worker pool.
type Submitter interface {
	Submit(job *models.Job) error
}

// StatusCache reads the job statuses mirrored by the worker pool's
// status notifier.
type StatusCache interface {
	GetJobStatus(ctx context.Context, jobID string) (string, bool, error)
}

// Updates is the merged job listing returned by GET /updates.
type Updates struct {
	UserRequestedJobs     []*models.Job     `json:"user_requested_jobs"`
	InProgressServerTasks map[string]string `json:"in_progress_server_tasks"`
}

// Service validates submissions, persists them and enqueues them.
type Service struct {
	store    store.Store
	registry *worker.Registry
	pool     Submitter
	statuses StatusCache
	now      func() time.Time

	mu     sync.Mutex
	lastID time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStatusCache lets Job answer from the status mirror when the store
// cannot be read.
func WithStatusCache(c StatusCache) Option {
	return func(s *Service) { s.statuses = c }
}

func NewService(s store.Store, r *worker.Registry, p Submitter, opts ...Option) *Service {
	svc := &Service{
		store:    s,
		registry: r,
		pool:     p,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Submit validates req and creates one queued job per requested quarter.
// A request without a quarter covers all four.
func (s *Service) Submit(ctx context.Context, req models.ProcessRequest) ([]models.Receipt, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if req.PointOfOrigin == "" {
		req.PointOfOrigin = defaultOrigin
	}

	quarters := []int{1, 2, 3, 4}
	if req.Quarter != nil {
		quarters = []int{*req.Quarter}
	}

	receipts := make([]models.Receipt, 0, len(quarters))
	for _, q := range quarters {
		one := req
		quarter := q
		one.Quarter = &quarter

		id := s.nextID(req.Ticker, req.Year, q)
		job, err := s.store.Create(ctx, id, one, req.PointOfOrigin)
		if err != nil {
			return nil, fmt.Errorf("creating job %s: %w", id, err)
		}
		if err := s.pool.Submit(job); err != nil {
			return nil, fmt.Errorf("enqueueing job %s: %w", id, err)
		}
		slog.Info("job queued", "job_id", id, "origin", req.PointOfOrigin)
		receipts = append(receipts, models.Receipt{
			JobID:   id,
			Status:  models.JobStatusQueued,
			Message: queuedMessage,
		})
	}
	return receipts, nil
}

func (s *Service) validate(req models.ProcessRequest) error {
	if req.Ticker == "" {
		return &ValidationError{Field: "ticker", Message: "is required"}
	}
	if strings.ContainsAny(req.Ticker, "_/ ") {
		return &ValidationError{Field: "ticker", Message: "must not contain '_', '/' or spaces"}
	}
	maxYear := s.now().Year() + 1
	if req.Year < minYear || req.Year > maxYear {
		return &ValidationError{Field: "year", Message: fmt.Sprintf("must be between %d and %d", minYear, maxYear)}
	}
	if req.Quarter != nil && (*req.Quarter < 1 || *req.Quarter > 4) {
		return &ValidationError{Field: "quarter", Message: "must be between 1 and 4"}
	}
	return nil
}

// nextID returns TICKER_YEAR_QN_YYYYMMDD_HHMMSS_micro. The timestamp part
// strictly increases within the process.
func (s *Service) nextID(ticker string, year, quarter int) string {
	s.mu.Lock()
	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastID) {
		now = s.lastID.Add(time.Microsecond)
	}
	s.lastID = now
	s.mu.Unlock()

	return fmt.Sprintf("%s_%d_Q%d_%s_%06d",
		ticker, year, quarter, now.Format("20060102_150405"), now.Nanosecond()/1000)
}

// Updates merges the durable listing with the pool's in-memory view. The
// in-memory status wins for jobs present in both, while the log always comes
// from the durable record. In-memory jobs missing from durable state are
// dropped unless they are still running.
func (s *Service) Updates(ctx context.Context) (*Updates, error) {
	durable, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	keep := make(map[string]bool, len(durable))
	for _, j := range durable {
		keep[j.JobID] = true
	}
	if removed := s.registry.Prune(keep); len(removed) > 0 {
		slog.Debug("pruned jobs missing from store", "job_ids", removed)
	}

	merged := make(map[string]*models.Job, len(durable))
	for _, j := range durable {
		merged[j.JobID] = j
	}
	for _, j := range s.registry.Snapshot() {
		if d, ok := merged[j.JobID]; ok {
			j.Log = d.Log
		}
		merged[j.JobID] = j
	}

	jobs := make([]*models.Job, 0, len(merged))
	for _, j := range merged {
		jobs = append(jobs, j)
	}
	sortNewestFirst(jobs)

	return &Updates{
		UserRequestedJobs:     jobs,
		InProgressServerTasks: s.registry.Tasks(),
	}, nil
}

// Job returns one job, preferring the in-memory status over the durable one.
// If the store cannot be read, a cached status is returned without the rest
// of the record.
func (s *Service) Job(ctx context.Context, jobID string) (*models.Job, error) {
	live, tracked := s.registry.Get(jobID)
	j, found, err := s.store.Load(ctx, jobID)
	if tracked {
		if err == nil && found {
			live.Log = j.Log
		}
		return live, nil
	}
	if err != nil {
		if cached, ok := s.cachedJob(ctx, jobID); ok {
			slog.Warn("store unavailable, serving cached job status", "job_id", jobID, "error", err)
			return cached, nil
		}
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, jobID)
	}
	return j, nil
}

func (s *Service) cachedJob(ctx context.Context, jobID string) (*models.Job, bool) {
	if s.statuses == nil {
		return nil, false
	}
	status, ok, err := s.statuses.GetJobStatus(ctx, jobID)
	if err != nil {
		slog.Debug("status cache lookup failed", "job_id", jobID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &models.Job{JobID: jobID, Status: status, Message: cachedMessage}, true
}

func sortNewestFirst(jobs []*models.Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		ta, tb := jobs[a].TimeReceived, jobs[b].TimeReceived
		switch {
		case ta != nil && tb != nil && !ta.Equal(*tb):
			return ta.After(*tb)
		case ta != nil && tb == nil:
			return true
		case ta == nil && tb != nil:
			return false
		}
		return jobs[a].JobID > jobs[b].JobID
	})
}
