package worker

import (
	"context"
	"log/slog"
)

// quietTasks are per-fragment steps; they update the live task but are too
// frequent to append to the durable job log.
var quietTasks = map[string]bool{
	"paragraph":    true,
	"write_para":   true,
	"csv":          true,
	"table":        true,
	"write_header": true,
}

type progressKey struct{}

type progress struct {
	jobID string
	pool  *Pool
}

func withProgress(ctx context.Context, jobID string, p *Pool) context.Context {
	return context.WithValue(ctx, progressKey{}, &progress{jobID: jobID, pool: p})
}

// JobID returns the id of the job whose handler owns ctx.
func JobID(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(progressKey{}).(*progress)
	if !ok {
		return "", false
	}
	return p.jobID, true
}

// ReportProgress records the current step of the job running under ctx and
// appends it to the job log unless it is a per-fragment step. Outside a job
// it does nothing.
func ReportProgress(ctx context.Context, task string) {
	p, ok := ctx.Value(progressKey{}).(*progress)
	if !ok {
		return
	}
	p.pool.registry.setTask(p.jobID, task)
	if quietTasks[task] {
		return
	}
	if err := p.pool.store.AppendLog(ctx, p.jobID, task); err != nil {
		slog.Warn("failed to append job log", "job_id", p.jobID, "task", task, "error", err)
	}
}
