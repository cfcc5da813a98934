// Package metrics exposes Prometheus collectors for the job pipeline.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/raven/internal/classify"
	"github.com/kiranshivaraju/raven/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "raven"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	attempts     prometheus.Counter
	limiterWait  prometheus.Histogram
	verdicts     *prometheus.CounterVec
}

// New registers all collectors. inFlight, when non-nil, is sampled on every
// scrape for the number of jobs currently being processed.
func New(inFlight func() int) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Jobs picked up by a worker.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_attempt_failures_total",
			Help:      "Failed job attempts, retried or final.",
		}),
		limiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting for reasoning rate-limit capacity.",
			Buckets:   []float64{0, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Fragment classifications by relevance.",
		}, []string{"relevant"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsStarted, m.jobsFinished, m.attempts, m.limiterWait, m.verdicts,
	)
	if inFlight != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed.",
		}, func() float64 { return float64(inFlight()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// JobStatusChanged counts starts and terminal outcomes.
func (m *Metrics) JobStatusChanged(_ context.Context, job *models.Job) {
	switch {
	case job.Status == models.JobStatusProcessing:
		m.jobsStarted.Inc()
	case models.IsTerminal(job.Status):
		m.jobsFinished.WithLabelValues(job.Status).Inc()
	}
}

// AttemptFailed matches worker.AttemptHook.
func (m *Metrics) AttemptFailed(_ string, _ int, _ error) {
	m.attempts.Inc()
}

// LimiterWaited matches the rate limiter's wait observer.
func (m *Metrics) LimiterWaited(d time.Duration) {
	m.limiterWait.Observe(d.Seconds())
}

// Verdict matches the reasoner's verdict observer.
func (m *Metrics) Verdict(r classify.Relevance) {
	m.verdicts.WithLabelValues(string(r)).Inc()
}
