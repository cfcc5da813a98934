// Package models contains shared data models used across the Raven codebase.
package models

import (
	"encoding/json"
	"time"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// CurrentRecordVersion is written on every persisted job record.
const CurrentRecordVersion = 1

// IsTerminal reports whether status is completed or failed.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// Job is the durable record for one unit of submitted work. Records are
// stored as one JSON object per job, keyed by JobID.
type Job struct {
	JobID          string          `json:"job_id"`
	Request        json.RawMessage `json:"request"`
	Status         string          `json:"status"`
	Message        string          `json:"message,omitempty"`
	TimeReceived   *time.Time      `json:"time_received"`
	TimeStarted    *time.Time      `json:"time_started"`
	TimeCompleted  *time.Time      `json:"time_completed"`
	Log            []LogEntry      `json:"log"`
	PointOfOrigin  string          `json:"point_of_origin"`
	Version        int             `json:"version"`
	FilingURL      *string         `json:"filing_url"`
	TranscriptURL  *string         `json:"transcript_url"`
	TranscriptDate *string         `json:"transcript_date"`
}

// LogEntry is one line of a job's append-only log.
type LogEntry struct {
	TS  time.Time `json:"ts"`
	Msg string    `json:"msg"`
}

// Clone returns a deep copy so callers can hand snapshots across goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Request != nil {
		c.Request = append(json.RawMessage(nil), j.Request...)
	}
	if j.Log != nil {
		c.Log = append([]LogEntry(nil), j.Log...)
	}
	c.TimeReceived = cloneTime(j.TimeReceived)
	c.TimeStarted = cloneTime(j.TimeStarted)
	c.TimeCompleted = cloneTime(j.TimeCompleted)
	c.FilingURL = cloneString(j.FilingURL)
	c.TranscriptURL = cloneString(j.TranscriptURL)
	c.TranscriptDate = cloneString(j.TranscriptDate)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
