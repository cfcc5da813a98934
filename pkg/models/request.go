package models

// ProcessRequest asks for one filing (or a full year of filings) to be
// fetched, classified and written out. Quarter is optional: when nil the
// request expands into one job per quarter.
type ProcessRequest struct {
	Ticker            string `json:"ticker"`
	Year              int    `json:"year"`
	Quarter           *int   `json:"quarter,omitempty"`
	IncludeTranscript bool   `json:"include_transcript"`
	PointOfOrigin     string `json:"point_of_origin"`
}

// Receipt acknowledges an accepted submission. It is returned before the
// job runs.
type Receipt struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
