// Package reconciler is the safety net behind the at-least-once broker:
// it republishes pending jobs whose messages were lost, cancels jobs
// stuck in processing, and retries recoverable failures. It changes
// state only through the store's guarded transitions, so running it
// alongside live workers is safe.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/inferq/internal/cache"
	"github.com/kiranshivaraju/inferq/internal/config"
	"github.com/kiranshivaraju/inferq/internal/queue"
	"github.com/kiranshivaraju/inferq/internal/store"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

type Reconciler struct {
	store     store.Store
	cache     cache.Cache
	publisher queue.Publisher
	cfg       config.ReconcilerConfig
	cacheTTL  time.Duration
}

func New(st store.Store, ca cache.Cache, publisher queue.Publisher, cfg config.ReconcilerConfig, cacheTTL time.Duration) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 30 * time.Minute
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RepublishBatch <= 0 {
		cfg.RepublishBatch = 10
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Reconciler{store: st, cache: ca, publisher: publisher, cfg: cfg, cacheTTL: cacheTTL}
}

// Start runs sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one full sweep. Each phase logs and continues on
// error; a broken store query must not starve the other phases.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if err := r.republishPending(ctx); err != nil {
		slog.Error("republish sweep failed", "error", err)
	}
	if err := r.failStuck(ctx); err != nil {
		slog.Error("stuck-job sweep failed", "error", err)
	}
	if err := r.retryFailed(ctx); err != nil {
		slog.Error("retry sweep failed", "error", err)
	}
}

// republishPending re-emits request messages for jobs that have sat
// pending past the grace period. Duplicate messages are harmless; the
// worker's claim transition only fires once.
func (r *Reconciler) republishPending(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.cfg.PendingGrace)
	jobs, err := r.store.ListPendingJobsOlderThan(ctx, cutoff, r.cfg.RepublishBatch)
	if err != nil {
		return fmt.Errorf("list stale pending: %w", err)
	}

	for _, job := range jobs {
		err := r.publisher.Publish(ctx, queue.JobMessage{
			JobID:       job.ID,
			Kind:        job.Kind,
			ModelID:     job.ModelID,
			OwnerID:     job.OwnerID,
			ProjectID:   job.ProjectID,
			Input:       job.Input,
			Attempt:     job.RetryCount(),
			RequestedAt: time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("republish failed", "job_id", job.ID, "error", err)
			continue
		}
		slog.Info("republished stale pending job", "job_id", job.ID, "age", time.Since(job.CreatedAt))
	}
	return nil
}

// failStuck cancels jobs that have been processing longer than the
// stuck threshold. If the owning worker finishes anyway its completion
// write no-ops against the failed status.
func (r *Reconciler) failStuck(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.cfg.StuckThreshold)
	jobs, err := r.store.ListStuckProcessingJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stuck processing: %w", err)
	}

	for _, job := range jobs {
		message := fmt.Sprintf("Job automatically cancelled after %s", r.cfg.StuckThreshold)
		failed, err := r.store.MarkJobFailed(ctx, job.ID, message)
		if err != nil {
			slog.Error("force-fail errored", "job_id", job.ID, "error", err)
			continue
		}
		if !failed {
			continue
		}
		if err := r.cache.SetJobStatus(ctx, job.ID, models.JobStatusFailed, r.cacheTTL); err != nil {
			slog.Warn("cache status write failed", "job_id", job.ID, "error", err)
		}
		slog.Warn("cancelled stuck job", "job_id", job.ID, "started_at", job.StartedAt)
	}
	return nil
}

// retryFailed reopens recently failed jobs whose error reads as
// transient, bumping the retry counter carried in the job input.
func (r *Reconciler) retryFailed(ctx context.Context) error {
	since := time.Now().UTC().Add(-r.cfg.RetryWindow)
	jobs, err := r.store.ListRecentFailedJobs(ctx, since)
	if err != nil {
		return fmt.Errorf("list recent failed: %w", err)
	}

	for _, job := range jobs {
		if job.RetryCount() >= r.cfg.MaxRetries {
			continue
		}
		if job.ErrorMessage == nil || !shouldRetry(*job.ErrorMessage) {
			continue
		}

		input, attempt, err := bumpRetryCount(job.Input)
		if err != nil {
			slog.Warn("cannot bump retry count, skipping", "job_id", job.ID, "error", err)
			continue
		}

		reopened, err := r.store.ReopenJob(ctx, job.ID, input)
		if err != nil {
			slog.Error("reopen errored", "job_id", job.ID, "error", err)
			continue
		}
		if !reopened {
			continue
		}

		if err := r.cache.SetJobStatus(ctx, job.ID, models.JobStatusPending, r.cacheTTL); err != nil {
			slog.Warn("cache status write failed", "job_id", job.ID, "error", err)
		}

		err = r.publisher.Publish(ctx, queue.JobMessage{
			JobID:       job.ID,
			Kind:        job.Kind,
			ModelID:     job.ModelID,
			OwnerID:     job.OwnerID,
			ProjectID:   job.ProjectID,
			Input:       input,
			Attempt:     attempt,
			RequestedAt: time.Now().UTC(),
		})
		if err != nil {
			// The job is pending again; the republish sweep will pick
			// it up next round.
			slog.Warn("retry publish failed", "job_id", job.ID, "error", err)
			continue
		}
		slog.Info("retrying failed job", "job_id", job.ID, "attempt", attempt, "error", *job.ErrorMessage)
	}
	return nil
}

// bumpRetryCount rewrites the job input with retry_count incremented,
// preserving every other field.
func bumpRetryCount(input json.RawMessage) (json.RawMessage, int, error) {
	payload := make(map[string]any)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &payload); err != nil {
			return nil, 0, fmt.Errorf("input is not a JSON object: %w", err)
		}
	}

	attempt := 1
	if raw, ok := payload["retry_count"]; ok {
		if count, ok := raw.(float64); ok {
			attempt = int(count) + 1
		}
	}
	payload["retry_count"] = attempt

	updated, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	return updated, attempt, nil
}
