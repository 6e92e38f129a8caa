// Package jobs holds the submission and read-side business logic for
// LLM jobs. Handlers stay thin; everything that touches the store, the
// cache, or the broker on behalf of a client goes through Service.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/inferq/internal/cache"
	"github.com/kiranshivaraju/inferq/internal/queue"
	"github.com/kiranshivaraju/inferq/internal/store"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

var (
	ErrInvalidKind      = errors.New("invalid job kind")
	ErrInvalidStatus    = errors.New("invalid job status")
	ErrInvalidInput     = errors.New("input must be a JSON object")
	ErrNoModels         = errors.New("at least one model id is required")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrForbidden        = errors.New("job belongs to another owner")
	ErrResultNotReady   = errors.New("job has not completed")
)

type Service struct {
	store     store.Store
	cache     cache.Cache
	publisher queue.Publisher
	cacheTTL  time.Duration
}

func NewService(st store.Store, ca cache.Cache, publisher queue.Publisher, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Service{store: st, cache: ca, publisher: publisher, cacheTTL: cacheTTL}
}

// SubmitRequest is one client submission. A request naming several
// models fans out into one independent job per model.
type SubmitRequest struct {
	Kind      string
	OwnerID   *uuid.UUID
	ProjectID *uuid.UUID
	ModelIDs  []uuid.UUID
	Input     json.RawMessage
}

type SubmitResult struct {
	JobIDs []uuid.UUID `json:"job_ids"`
	Status string      `json:"status"`
}

// Submit validates the request, persists one pending job per model, and
// publishes a request message for each. Validation is all-or-nothing:
// if any referenced model is unknown or inactive, no job is created.
// Publish failures do not fail the submission; the job is already
// durable as pending and the reconciler will republish it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if !models.ValidJobKind(req.Kind) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}
	if len(req.Input) == 0 || !json.Valid(req.Input) {
		return nil, ErrInvalidInput
	}
	if len(req.ModelIDs) == 0 {
		return nil, ErrNoModels
	}

	for _, modelID := range req.ModelIDs {
		model, err := s.store.GetProviderModel(ctx, modelID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, modelID)
			}
			return nil, fmt.Errorf("look up model %s: %w", modelID, err)
		}
		if !model.IsActive {
			return nil, fmt.Errorf("%w: %s is inactive", ErrModelUnavailable, modelID)
		}
	}

	now := time.Now().UTC()
	jobIDs := make([]uuid.UUID, 0, len(req.ModelIDs))
	for _, modelID := range req.ModelIDs {
		job := &models.Job{
			ID:        uuid.New(),
			Kind:      req.Kind,
			Status:    models.JobStatusPending,
			OwnerID:   req.OwnerID,
			ModelID:   modelID,
			ProjectID: req.ProjectID,
			Input:     req.Input,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
		jobIDs = append(jobIDs, job.ID)

		if err := s.publisher.Publish(ctx, queue.JobMessage{
			JobID:       job.ID,
			Kind:        job.Kind,
			ModelID:     modelID,
			OwnerID:     req.OwnerID,
			ProjectID:   req.ProjectID,
			Input:       req.Input,
			Attempt:     0,
			RequestedAt: now,
		}); err != nil {
			slog.Warn("publish failed, job left pending for reconciler",
				"job_id", job.ID, "error", err)
		}

		if err := s.cache.SetJobStatus(ctx, job.ID, models.JobStatusPending, s.cacheTTL); err != nil {
			slog.Warn("cache status write failed", "job_id", job.ID, "error", err)
		}
	}

	return &SubmitResult{JobIDs: jobIDs, Status: models.JobStatusPending}, nil
}

// GetJob returns the job if caller may see it. Anonymous jobs are
// world-readable; owned jobs are visible to their owner only.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID, caller *uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := authorize(job, caller); err != nil {
		return nil, err
	}
	return job, nil
}

// GetResult returns the completed job and its result payload, serving
// the payload from the cache mirror when present. The store stays
// authoritative; a cache miss on a completed job falls through to the
// stored result and repopulates the mirror.
func (s *Service) GetResult(ctx context.Context, jobID uuid.UUID, caller *uuid.UUID) (*models.Job, json.RawMessage, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(job, caller); err != nil {
		return nil, nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, nil, fmt.Errorf("%w: status is %s", ErrResultNotReady, job.Status)
	}

	if cached, ok, err := s.cache.GetJobResult(ctx, job.ID, job.ModelID); err == nil && ok {
		return job, cached, nil
	} else if err != nil {
		slog.Warn("cache result read failed", "job_id", job.ID, "error", err)
	}

	if err := s.cache.SetJobResult(ctx, job.ID, job.ModelID, job.Result, s.cacheTTL); err != nil {
		slog.Warn("cache result backfill failed", "job_id", job.ID, "error", err)
	}
	return job, job.Result, nil
}

// ListJobs returns the caller's jobs, newest first, with optional
// status/kind filters.
func (s *Service) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	if filter.Status != "" {
		switch filter.Status {
		case models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed:
		default:
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
		}
	}
	if filter.Kind != "" && !models.ValidJobKind(filter.Kind) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidKind, filter.Kind)
	}
	return s.store.ListJobs(ctx, filter)
}

func authorize(job *models.Job, caller *uuid.UUID) error {
	if job.OwnerID == nil {
		return nil
	}
	if caller == nil || *caller != *job.OwnerID {
		return ErrForbidden
	}
	return nil
}
