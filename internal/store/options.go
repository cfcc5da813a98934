package store

import "time"

type updateParams struct {
	Status         *string
	Message        *string
	TimeStarted    *time.Time
	TimeCompleted  *time.Time
	FilingURL      *string
	TranscriptURL  *string
	TranscriptDate *string
}

// UpdateOption sets one field of a job record during Update.
type UpdateOption func(*updateParams)

func WithStatus(status string) UpdateOption {
	return func(p *updateParams) {
		p.Status = &status
	}
}

func WithMessage(msg string) UpdateOption {
	return func(p *updateParams) {
		p.Message = &msg
	}
}

func WithStarted(t time.Time) UpdateOption {
	return func(p *updateParams) {
		t = t.UTC()
		p.TimeStarted = &t
	}
}

func WithCompleted(t time.Time) UpdateOption {
	return func(p *updateParams) {
		t = t.UTC()
		p.TimeCompleted = &t
	}
}

func WithFilingURL(url string) UpdateOption {
	return func(p *updateParams) {
		p.FilingURL = &url
	}
}

func WithTranscript(url, date string) UpdateOption {
	return func(p *updateParams) {
		p.TranscriptURL = &url
		p.TranscriptDate = &date
	}
}
