package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/raven/internal/api/response"
	"github.com/kiranshivaraju/raven/internal/intake"
	"github.com/kiranshivaraju/raven/internal/store"
	"github.com/kiranshivaraju/raven/internal/worker"
	"github.com/kiranshivaraju/raven/pkg/models"
)

// JobService is what the job endpoints depend on.
type JobService interface {
	Submit(ctx context.Context, req models.ProcessRequest) ([]models.Receipt, error)
	Updates(ctx context.Context) (*intake.Updates, error)
	Job(ctx context.Context, jobID string) (*models.Job, error)
}

type processRequest struct {
	Ticker            string `json:"ticker"`
	Year              *int   `json:"year"`
	Quarter           *int   `json:"quarter"`
	IncludeTranscript bool   `json:"include_transcript"`
	PointOfOrigin     string `json:"point_of_origin"`
}

// NewProcessHandler returns an http.HandlerFunc for POST /process. A request
// with a quarter answers with one receipt; without, with a list of four.
func NewProcessHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid JSON body", nil)
			return
		}
		if req.Year == nil {
			response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "year is required",
				map[string]string{"field": "year"})
			return
		}

		receipts, err := svc.Submit(r.Context(), models.ProcessRequest{
			Ticker:            req.Ticker,
			Year:              *req.Year,
			Quarter:           req.Quarter,
			IncludeTranscript: req.IncludeTranscript,
			PointOfOrigin:     req.PointOfOrigin,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		if req.Quarter != nil && len(receipts) == 1 {
			response.Plain(w, http.StatusOK, receipts[0])
			return
		}
		response.Plain(w, http.StatusOK, receipts)
	}
}

// NewUpdatesHandler returns an http.HandlerFunc for GET /updates.
func NewUpdatesHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := svc.Updates(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Plain(w, http.StatusOK, u)
	}
}

// NewJobHandler returns an http.HandlerFunc for GET /jobs/{jobID}.
func NewJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job id is required", nil)
			return
		}

		job, err := svc.Job(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *intake.ValidationError
	var se *store.StorageError

	switch {
	case errors.As(err, &ve):
		response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", ve.Error(),
			map[string]string{"field": ve.Field})
	case errors.Is(err, intake.ErrValidation):
		response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.As(err, &se):
		slog.Error("job store unavailable", "path", r.URL.Path, "op", se.Op, "job_id", se.JobID, "error", se.Err)
		response.Error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Job store unavailable",
			map[string]string{"op": se.Op, "job_id": se.JobID})
	case errors.Is(err, worker.ErrPoolClosed):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
