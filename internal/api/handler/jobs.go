package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/inferq/internal/api/middleware"
	"github.com/kiranshivaraju/inferq/internal/api/response"
	"github.com/kiranshivaraju/inferq/internal/jobs"
	"github.com/kiranshivaraju/inferq/internal/store"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

// JobService defines the interface the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.SubmitResult, error)
	GetJob(ctx context.Context, jobID uuid.UUID, caller *uuid.UUID) (*models.Job, error)
	GetResult(ctx context.Context, jobID uuid.UUID, caller *uuid.UUID) (*models.Job, json.RawMessage, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

type jobStatusView struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	IsComplete     bool            `json:"is_complete"`
	ModelID        uuid.UUID       `json:"model_id"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ProcessingSecs *float64        `json:"processing_time_seconds,omitempty"`
}

func jobView(job *models.Job) jobStatusView {
	return jobStatusView{
		ID:             job.ID,
		Kind:           job.Kind,
		Status:         job.Status,
		IsComplete:     job.IsComplete(),
		ModelID:        job.ModelID,
		Result:         job.Result,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		ProcessingSecs: job.ProcessingTime(),
	}
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Kind      string          `json:"kind"`
			ModelIDs  []uuid.UUID     `json:"model_ids"`
			ProjectID *uuid.UUID      `json:"project_id"`
			Input     json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		result, err := svc.Submit(r.Context(), jobs.SubmitRequest{
			Kind:      req.Kind,
			OwnerID:   mw.GetOwnerID(r),
			ProjectID: req.ProjectID,
			ModelIDs:  req.ModelIDs,
			Input:     req.Input,
		})
		if err != nil {
			switch {
			case errors.Is(err, jobs.ErrModelUnavailable):
				response.Error(w, http.StatusBadRequest, "MODEL_UNAVAILABLE", err.Error(), nil)
			case errors.Is(err, jobs.ErrInvalidKind),
				errors.Is(err, jobs.ErrInvalidInput),
				errors.Is(err, jobs.ErrNoModels):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, result)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), jobID, mw.GetOwnerID(r))
		if err != nil {
			writeJobError(w, err)
			return
		}

		response.JSON(w, jobView(job))
	}
}

// NewGetResultHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/result.
func NewGetResultHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, result, err := svc.GetResult(r.Context(), jobID, mw.GetOwnerID(r))
		if err != nil {
			writeJobError(w, err)
			return
		}

		response.JSON(w, struct {
			JobID   uuid.UUID       `json:"job_id"`
			Status  string          `json:"status"`
			ModelID uuid.UUID       `json:"model_id"`
			Result  json.RawMessage `json:"result"`
		}{
			JobID:   job.ID,
			Status:  job.Status,
			ModelID: job.ModelID,
			Result:  result,
		})
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Listing requires authentication; anonymous jobs are reachable only by
// id.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := mw.GetOwnerID(r)
		if owner == nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN",
				"Listing jobs requires an API key", nil)
			return
		}

		query := r.URL.Query()
		filter := store.JobFilter{
			OwnerID: *owner,
			Status:  query.Get("status"),
			Kind:    query.Get("kind"),
			Limit:   intQuery(query.Get("limit"), 20),
			Offset:  intQuery(query.Get("offset"), 0),
		}

		list, total, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			if errors.Is(err, jobs.ErrInvalidStatus) || errors.Is(err, jobs.ErrInvalidKind) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		views := make([]jobStatusView, 0, len(list))
		for _, job := range list {
			views = append(views, jobView(job))
		}

		response.Collection(w, views, response.PaginationMeta{
			Limit:   filter.Limit,
			Offset:  filter.Offset,
			Total:   total,
			HasNext: filter.Offset+len(views) < total,
		})
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
		return uuid.Nil, false
	}
	return jobID, true
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, jobs.ErrForbidden):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "Job belongs to another owner", nil)
	case errors.Is(err, jobs.ErrResultNotReady):
		response.Error(w, http.StatusBadRequest, "RESULT_NOT_READY", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
