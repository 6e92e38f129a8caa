// Package worker consumes the requests topic and executes jobs against
// the provider backends. Concurrency is bounded by the queue consumer;
// each handler invocation owns exactly one job attempt.
package worker

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

// CompletionClient is the slice of the ai client the worker needs.
type CompletionClient interface {
	GetResponse(ctx context.Context, model *models.ProviderModel, req models.CompletionRequest) models.Completion
}

type Pool struct {
	store     store.Store
	cache     cache.Cache
	consumer  queue.Consumer
	publisher queue.Publisher
	client    CompletionClient
	cacheTTL  time.Duration
}

func NewPool(st store.Store, ca cache.Cache, consumer queue.Consumer, publisher queue.Publisher, client CompletionClient, cacheTTL time.Duration) *Pool {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Pool{
		store:     st,
		cache:     ca,
		consumer:  consumer,
		publisher: publisher,
		client:    client,
		cacheTTL:  cacheTTL,
	}
}

// Start consumes until ctx is cancelled, restarting the consume loop
// after transient broker errors.
func (p *Pool) Start(ctx context.Context) {
	for {
		err := p.consumer.Consume(ctx, p.Handle)
		if ctx.Err() != nil {
			slog.Info("worker pool stopped")
			return
		}
		slog.Error("consume loop exited, restarting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// Handle processes one delivery. It returns an error only for transient
// infrastructure failures before the job reaches a terminal state; in
// every other case the message is considered handled so the consumer
// acks it. Duplicate deliveries of terminal or in-flight jobs degrade
// to no-ops via the status guards.
func (p *Pool) Handle(ctx context.Context, message queue.JobMessage) error {
	log := slog.With("job_id", message.JobID, "kind", message.Kind)

	// Status-mirror fast path. The mirror is written only after a store
	// transition commits, so a cached terminal status is trustworthy and
	// the redelivery can be dropped without touching the store.
	if status, ok, err := p.cache.GetJobStatus(ctx, message.JobID); err == nil && ok &&
		(status == models.JobStatusCompleted || status == models.JobStatusFailed) {
		log.Debug("duplicate delivery for terminal job, skipping")
		return nil
	}

	job, err := p.store.GetJob(ctx, message.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("message references unknown job, dropping")
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}

	if job.IsComplete() {
		log.Debug("duplicate delivery for terminal job, skipping")
		return nil
	}

	claimed, err := p.store.MarkJobProcessing(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !claimed {
		log.Debug("job not pending, another worker owns it")
		return nil
	}
	p.setStatus(ctx, job.ID, models.JobStatusProcessing)

	model, err := p.store.GetProviderModel(ctx, job.ModelID)
	if err != nil {
		p.fail(ctx, job, fmt.Sprintf("model not found: %s", job.ModelID), log)
		return nil
	}

	req, err := p.buildRequest(ctx, job, model)
	if err != nil {
		p.fail(ctx, job, err.Error(), log)
		return nil
	}

	started := time.Now()
	completion := p.client.GetResponse(ctx, model, req)
	elapsed := time.Since(started)

	if completion.Status != models.CompletionStatusSuccess {
		log.Warn("provider call failed", "provider", model.Provider, "error", completion.Err, "elapsed", elapsed)
		p.fail(ctx, job, completion.Err, log)
		return nil
	}

	result, err := json.Marshal(completion)
	if err != nil {
		p.fail(ctx, job, fmt.Sprintf("encode result: %v", err), log)
		return nil
	}

	committed, err := p.store.MarkJobCompleted(ctx, job.ID, result)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !committed {
		// The reconciler force-failed the job while we were running.
		// The last writer has already won; do not announce a result.
		log.Warn("completion lost status race, discarding result")
		return nil
	}

	p.setStatus(ctx, job.ID, models.JobStatusCompleted)
	if err := p.cache.SetJobResult(ctx, job.ID, job.ModelID, result, p.cacheTTL); err != nil {
		log.Warn("cache result write failed", "error", err)
	}
	p.notify(ctx, job, "_complete", result, log)

	log.Info("job completed",
		"provider", model.Provider,
		"streamed", completion.Diagnostics.Streamed,
		"continuations", completion.Diagnostics.Continuations,
		"elapsed", elapsed)
	return nil
}

// buildRequest resolves effective parameters in precedence order:
// request override, project override, model default.
func (p *Pool) buildRequest(ctx context.Context, job *models.Job, model *models.ProviderModel) (models.CompletionRequest, error) {
	opts, err := parseJobOptions(job.Input)
	if err != nil {
		return models.CompletionRequest{}, err
	}

	messages, err := buildMessages(job.Kind, opts, job.Input)
	if err != nil {
		return models.CompletionRequest{}, err
	}

	apiKey := model.APIKey
	temperature := model.Temperature
	maxTokens := model.MaxTokens

	if job.ProjectID != nil {
		override, err := p.store.GetProjectModelOverride(ctx, *job.ProjectID, job.ModelID)
		switch {
		case err == nil && override.IsActive:
			if override.APIKey != nil && *override.APIKey != "" {
				apiKey = *override.APIKey
			}
			if override.Temperature != nil {
				temperature = *override.Temperature
			}
			if override.MaxTokens != nil {
				maxTokens = *override.MaxTokens
			}
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return models.CompletionRequest{}, fmt.Errorf("load project override: %w", err)
		}
	}

	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	return models.CompletionRequest{
		Model:       model.Name,
		APIKey:      apiKey,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func (p *Pool) fail(ctx context.Context, job *models.Job, message string, log *slog.Logger) {
	failed, err := p.store.MarkJobFailed(ctx, job.ID, message)
	if err != nil {
		log.Error("mark failed errored", "error", err)
		return
	}
	if !failed {
		log.Warn("failure lost status race, skipping")
		return
	}
	p.setStatus(ctx, job.ID, models.JobStatusFailed)

	result, err := json.Marshal(models.Completion{
		Status: models.CompletionStatusError,
		Err:    message,
	})
	if err == nil {
		if cacheErr := p.cache.SetJobResult(ctx, job.ID, job.ModelID, result, p.cacheTTL); cacheErr != nil {
			log.Warn("cache failure write failed", "error", cacheErr)
		}
		p.notify(ctx, job, "_failed", result, log)
	}
}

// notify publishes a terminal-state event, "{kind}_complete" for
// successes and "{kind}_failed" for failures.
func (p *Pool) notify(ctx context.Context, job *models.Job, event string, result json.RawMessage, log *slog.Logger) {
	err := p.publisher.Notify(ctx, queue.Notification{
		Kind:   job.Kind + event,
		JobID:  job.ID,
		Result: result,
	})
	if err != nil {
		log.Warn("notification publish failed", "error", err)
	}
}

func (p *Pool) setStatus(ctx context.Context, jobID uuid.UUID, status string) {
	if err := p.cache.SetJobStatus(ctx, jobID, status, p.cacheTTL); err != nil {
		slog.Warn("cache status write failed", "job_id", jobID, "error", err)
	}
}
