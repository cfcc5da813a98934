package worker

import (
	"context"

	"github.com/kiranshivaraju/raven/pkg/models"
)

// Notifier is told about every status change the pool persists.
// Implementations must not block for long; they run on the worker goroutine.
type Notifier interface {
	JobStatusChanged(ctx context.Context, job *models.Job)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, job *models.Job)

func (f NotifierFunc) JobStatusChanged(ctx context.Context, job *models.Job) { f(ctx, job) }

// MultiNotifier fans a change out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) JobStatusChanged(ctx context.Context, job *models.Job) {
	for _, n := range m {
		if n != nil {
			n.JobStatusChanged(ctx, job.Clone())
		}
	}
}
