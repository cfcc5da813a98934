package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/raven/pkg/models"
)

const DefaultStatusTTL = 7 * 24 * time.Hour

// StatusNotifier mirrors job status changes into the cache so other
// processes can poll them cheaply.
type StatusNotifier struct {
	cache Cache
	ttl   time.Duration
}

func NewStatusNotifier(c Cache, ttl time.Duration) *StatusNotifier {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusNotifier{cache: c, ttl: ttl}
}

func (n *StatusNotifier) JobStatusChanged(ctx context.Context, job *models.Job) {
	if err := n.cache.SetJobStatus(ctx, job.JobID, job.Status, n.ttl); err != nil {
		slog.Warn("failed to cache job status", "job_id", job.JobID, "status", job.Status, "error", err)
	}
}
