package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/raven/pkg/models"
)

const defaultPrefix = "jobs/"

var validTransitions = map[string][]string{
	models.JobStatusQueued:     {models.JobStatusProcessing, models.JobStatusFailed},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusQueued},
}

// JobStore persists job records as one JSON document per job on top of a
// Backend. It holds no in-process lock: every mutation is a read-modify-write
// of a single record, so writes to different jobs never contend.
type JobStore struct {
	backend     Backend
	prefix      string
	now         func() time.Time
	readBackoff func() backoff.BackOff
}

// Option configures a JobStore.
type Option func(*JobStore)

// WithPrefix sets the key prefix under which records are stored.
func WithPrefix(prefix string) Option {
	return func(s *JobStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the clock used for time_received and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) { s.now = now }
}

// WithReadBackoff overrides the retry schedule for idempotent reads.
func WithReadBackoff(fn func() backoff.BackOff) Option {
	return func(s *JobStore) { s.readBackoff = fn }
}

// NewJobStore creates a JobStore over the given backend.
func NewJobStore(b Backend, opts ...Option) *JobStore {
	s := &JobStore{
		backend: b,
		prefix:  defaultPrefix,
		now:     time.Now,
		readBackoff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 100 * time.Millisecond
			eb.MaxInterval = time.Second
			return backoff.WithMaxRetries(eb, 2)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JobStore) key(jobID string) string {
	return s.prefix + jobID + ".json"
}

func (s *JobStore) jobIDFromKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), ".json")
}

// Ping checks backend connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Create writes a new queued record. It fails with ErrAlreadyExists if a
// record for jobID is already present and leaves that record untouched.
func (s *JobStore) Create(ctx context.Context, jobID string, request any, origin string) (*models.Job, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", jobID, err)
	}

	now := s.now().UTC()
	job := &models.Job{
		JobID:         jobID,
		Request:       raw,
		Status:        models.JobStatusQueued,
		TimeReceived:  &now,
		Log:           []models.LogEntry{},
		PointOfOrigin: origin,
		Version:       models.CurrentRecordVersion,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encoding job %s: %w", jobID, err)
	}

	if err := s.backend.PutIfAbsent(ctx, s.key(jobID), data); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, jobID)
		}
		return nil, &StorageError{Op: "create", JobID: jobID, Err: err}
	}
	return job, nil
}

// Load returns the record for jobID. A missing record is reported as
// found == false with a nil error.
func (s *JobStore) Load(ctx context.Context, jobID string) (*models.Job, bool, error) {
	rec, err := s.read(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	job, err := rec.job()
	if err != nil {
		return nil, false, &StorageError{Op: "load", JobID: jobID, Err: err}
	}
	return job, true, nil
}

// Update merges the given fields into the freshly loaded record and writes
// it back. Terminal records reject any further mutation.
func (s *JobStore) Update(ctx context.Context, jobID string, opts ...UpdateOption) (*models.Job, error) {
	params := &updateParams{}
	for _, opt := range opts {
		opt(params)
	}

	rec, err := s.read(ctx, jobID)
	if err != nil {
		return nil, err
	}
	current, err := rec.job()
	if err != nil {
		return nil, &StorageError{Op: "update", JobID: jobID, Err: err}
	}

	if models.IsTerminal(current.Status) {
		return nil, fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, jobID, current.Status)
	}
	if params.Status != nil && *params.Status != current.Status {
		if !transitionAllowed(current.Status, *params.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *params.Status)
		}
	}

	if err := rec.apply(params); err != nil {
		return nil, fmt.Errorf("applying update to %s: %w", jobID, err)
	}
	if err := s.write(ctx, "update", jobID, rec); err != nil {
		return nil, err
	}
	return rec.job()
}

// AppendLog adds one timestamped entry to the job's log. Log appends are
// allowed on terminal records.
func (s *JobStore) AppendLog(ctx context.Context, jobID string, message string) error {
	rec, err := s.read(ctx, jobID)
	if err != nil {
		return err
	}

	var entries []models.LogEntry
	if raw, ok := rec["log"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return &StorageError{Op: "append_log", JobID: jobID, Err: err}
		}
	}
	entries = append(entries, models.LogEntry{TS: s.now().UTC(), Msg: message})
	if err := rec.set("log", entries); err != nil {
		return fmt.Errorf("encoding log for %s: %w", jobID, err)
	}
	return s.write(ctx, "append_log", jobID, rec)
}

// ListAll returns every readable record. Records that disappear or fail to
// parse between enumeration and fetch are logged and skipped.
func (s *JobStore) ListAll(ctx context.Context) ([]*models.Job, error) {
	keys, err := s.backend.List(ctx, s.prefix)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}

	jobs := make([]*models.Job, 0, len(keys))
	for _, key := range keys {
		jobID := s.jobIDFromKey(key)
		rec, err := s.read(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &StorageError{Op: "list", Err: ctx.Err()}
			}
			slog.Warn("skipping job record", "job_id", jobID, "error", err)
			continue
		}
		job, err := rec.job()
		if err != nil {
			slog.Warn("skipping unparseable job record", "job_id", jobID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Delete removes a record. Deleting a missing record returns ErrNotFound.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	err := s.backend.Delete(ctx, s.key(jobID))
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return &StorageError{Op: "delete", JobID: jobID, Err: err}
	}
	return nil
}

// read fetches and decodes the raw record, retrying transient backend
// failures. Not-found is never retried.
func (s *JobStore) read(ctx context.Context, jobID string) (record, error) {
	key := s.key(jobID)
	data, err := backoff.RetryWithData(func() ([]byte, error) {
		b, err := s.backend.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return b, err
	}, backoff.WithContext(s.readBackoff(), ctx))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, &StorageError{Op: "read", JobID: jobID, Err: err}
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &StorageError{Op: "decode", JobID: jobID, Err: err}
	}
	if rec == nil {
		rec = record{}
	}
	return rec, nil
}

func (s *JobStore) write(ctx context.Context, op, jobID string, rec record) error {
	if _, ok := rec["version"]; !ok {
		if err := rec.set("version", models.CurrentRecordVersion); err != nil {
			return fmt.Errorf("encoding version: %w", err)
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", jobID, err)
	}
	if err := s.backend.Put(ctx, s.key(jobID), data); err != nil {
		return &StorageError{Op: op, JobID: jobID, Err: err}
	}
	return nil
}

func transitionAllowed(from, to string) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

var _ Store = (*JobStore)(nil)
