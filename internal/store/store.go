package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/raven/pkg/models"
)

var ErrNotFound = errors.New("job record not found")
var ErrAlreadyExists = errors.New("job record already exists")
var ErrInvalidTransition = errors.New("invalid job status transition")

// StorageError wraps every backing-store failure that is not a plain
// not-found or already-exists outcome. Callers surface it as an
// infrastructure failure.
type StorageError struct {
	Op    string
	JobID string
	Err   error
}

func (e *StorageError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.JobID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Backend is a flat key-value blob store. Keys are opaque strings; values
// are whole JSON documents. Each Put is an atomic overwrite of one key.
type Backend interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// PutIfAbsent returns ErrAlreadyExists when the key is present.
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Store is the job record interface used by the worker pool and the API
// layer. All job persistence goes through here.
type Store interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, jobID string, request any, origin string) (*models.Job, error)
	Load(ctx context.Context, jobID string) (*models.Job, bool, error)
	Update(ctx context.Context, jobID string, opts ...UpdateOption) (*models.Job, error)
	AppendLog(ctx context.Context, jobID string, message string) error
	ListAll(ctx context.Context) ([]*models.Job, error)
	Delete(ctx context.Context, jobID string) error
}
