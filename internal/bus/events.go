package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/raven/pkg/models"
)

// StatusEvent is published every time a job changes status.
type StatusEvent struct {
	EventID    string `json:"event_id"`
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Origin     string `json:"point_of_origin,omitempty"`
	HappenedAt int64  `json:"happened_at"`
}

// Publisher is the subset of Client the status publisher needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// StatusPublisher forwards job status changes to a subject.
type StatusPublisher struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

func NewStatusPublisher(p Publisher, subject string) *StatusPublisher {
	return &StatusPublisher{pub: p, subject: subject, now: time.Now}
}

// JobStatusChanged publishes a StatusEvent. Publish failures are logged; a
// missed event never affects the job itself.
func (p *StatusPublisher) JobStatusChanged(_ context.Context, job *models.Job) {
	ev := StatusEvent{
		EventID:    uuid.NewString(),
		JobID:      job.JobID,
		Status:     job.Status,
		Message:    job.Message,
		Origin:     job.PointOfOrigin,
		HappenedAt: p.now().UnixMilli(),
	}
	if err := p.pub.PublishJSON(p.subject, ev); err != nil {
		slog.Warn("publishing job status", "job_id", job.JobID, "status", job.Status, "error", err)
	}
}

// Submitter accepts process requests, as intake.Service does.
type Submitter interface {
	Submit(ctx context.Context, req models.ProcessRequest) ([]models.Receipt, error)
}

// DefaultOrigin tags jobs submitted over the bus.
const DefaultOrigin = "nats"

// SubmissionHandler decodes a ProcessRequest and submits it. Requests
// without a point_of_origin are tagged DefaultOrigin.
func SubmissionHandler(s Submitter) func(ctx context.Context, data []byte) (any, error) {
	return func(ctx context.Context, data []byte) (any, error) {
		var req models.ProcessRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decoding submission: %w", err)
		}
		if req.PointOfOrigin == "" {
			req.PointOfOrigin = DefaultOrigin
		}
		receipts, err := s.Submit(ctx, req)
		if err != nil {
			slog.Warn("bus submission rejected", "ticker", req.Ticker, "year", req.Year, "error", err)
			return nil, err
		}
		slog.Info("bus submission accepted", "ticker", req.Ticker, "year", req.Year, "jobs", len(receipts))
		return receipts, nil
	}
}

// SubscribeSubmissions wires SubmissionHandler to subject on c.
func SubscribeSubmissions(c *Client, subject string, s Submitter) error {
	if _, err := c.HandleRequests(subject, SubmissionHandler(s)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return nil
}
