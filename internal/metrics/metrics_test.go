package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/raven/internal/classify"
	"github.com/kiranshivaraju/raven/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusChanged(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	m.JobStatusChanged(ctx, &models.Job{Status: models.JobStatusQueued})
	m.JobStatusChanged(ctx, &models.Job{Status: models.JobStatusProcessing})
	m.JobStatusChanged(ctx, &models.Job{Status: models.JobStatusProcessing})
	m.JobStatusChanged(ctx, &models.Job{Status: models.JobStatusCompleted})
	m.JobStatusChanged(ctx, &models.Job{Status: models.JobStatusFailed})

	const want = `
# HELP raven_jobs_finished_total Jobs that reached a terminal status.
# TYPE raven_jobs_finished_total counter
raven_jobs_finished_total{status="completed"} 1
raven_jobs_finished_total{status="failed"} 1
# HELP raven_jobs_started_total Jobs picked up by a worker.
# TYPE raven_jobs_started_total counter
raven_jobs_started_total 2
`
	require.NoError(t, testutil.GatherAndCompare(m.reg, strings.NewReader(want),
		"raven_jobs_finished_total", "raven_jobs_started_total"))
}

func TestObservers(t *testing.T) {
	m := New(nil)

	m.AttemptFailed("job-1", 1, errors.New("x"))
	m.AttemptFailed("job-1", 2, errors.New("x"))
	m.LimiterWaited(1500 * time.Millisecond)
	m.Verdict(classify.RelevanceYes)
	m.Verdict(classify.RelevanceError)
	m.Verdict(classify.RelevanceYes)

	n, err := testutil.GatherAndCount(m.reg, "raven_job_attempt_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	const want = `
# HELP raven_verdicts_total Fragment classifications by relevance.
# TYPE raven_verdicts_total counter
raven_verdicts_total{relevant="error"} 1
raven_verdicts_total{relevant="yes"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.reg, strings.NewReader(want), "raven_verdicts_total"))
}

func TestInFlightGauge(t *testing.T) {
	active := 3
	m := New(func() int { return active })

	const want = `
# HELP raven_jobs_in_flight Jobs currently being processed.
# TYPE raven_jobs_in_flight gauge
raven_jobs_in_flight 3
`
	require.NoError(t, testutil.GatherAndCompare(m.reg, strings.NewReader(want), "raven_jobs_in_flight"))
}

func TestHandler(t *testing.T) {
	m := New(func() int { return 0 })
	m.LimiterWaited(0)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "raven_limiter_wait_seconds_count 1")
	assert.Contains(t, w.Body.String(), "raven_jobs_in_flight 0")
}
