package store

import (
	"encoding/json"

	"github.com/kiranshivaraju/raven/pkg/models"
)

// record is the raw JSON object of a job. Updates go through it so fields
// this build does not know about survive a read-modify-write.
type record map[string]json.RawMessage

func (r record) set(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r[key] = b
	return nil
}

func (r record) apply(p *updateParams) error {
	fields := []struct {
		key string
		val any
		ok  bool
	}{
		{"status", p.Status, p.Status != nil},
		{"message", p.Message, p.Message != nil},
		{"time_started", p.TimeStarted, p.TimeStarted != nil},
		{"time_completed", p.TimeCompleted, p.TimeCompleted != nil},
		{"filing_url", p.FilingURL, p.FilingURL != nil},
		{"transcript_url", p.TranscriptURL, p.TranscriptURL != nil},
		{"transcript_date", p.TranscriptDate, p.TranscriptDate != nil},
	}
	for _, f := range fields {
		if !f.ok {
			continue
		}
		if err := r.set(f.key, f.val); err != nil {
			return err
		}
	}
	return nil
}

func (r record) job() (*models.Job, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var j models.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, err
	}
	if j.Version == 0 {
		j.Version = models.CurrentRecordVersion
	}
	if j.Log == nil {
		j.Log = []models.LogEntry{}
	}
	return &j, nil
}
