package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/inferq/internal/cache/cachetest"
	"github.com/kiranshivaraju/inferq/internal/queue"
	"github.com/kiranshivaraju/inferq/internal/store"
	"github.com/kiranshivaraju/inferq/internal/store/storetest"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

type capturingPublisher struct {
	mu            sync.Mutex
	published     []queue.JobMessage
	notifications []queue.Notification
	publishErr    error
}

func (p *capturingPublisher) Publish(_ context.Context, message queue.JobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.published = append(p.published, message)
	return nil
}

func (p *capturingPublisher) Notify(_ context.Context, notification queue.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, notification)
	return nil
}

func seedModel(t *testing.T, st *storetest.MemStore, active bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	st.AddProviderModel(&models.ProviderModel{
		ID:       id,
		Name:     "gpt-4o",
		Provider: models.ProviderOpenAI,
		APIKey:   "sk-test",
		IsActive: active,
	})
	return id
}

func TestSubmitFansOutPerModel(t *testing.T) {
	st := storetest.New()
	publisher := &capturingPublisher{}
	service := NewService(st, cachetest.New(), publisher, time.Hour)

	modelA := seedModel(t, st, true)
	modelB := seedModel(t, st, true)
	owner := uuid.New()

	result, err := service.Submit(context.Background(), SubmitRequest{
		Kind:     models.JobKindAnalysis,
		OwnerID:  &owner,
		ModelIDs: []uuid.UUID{modelA, modelB},
		Input:    json.RawMessage(`{"question":"why did the build fail?"}`),
	})
	require.NoError(t, err)
	require.Len(t, result.JobIDs, 2)
	assert.Equal(t, models.JobStatusPending, result.Status)

	require.Len(t, publisher.published, 2)
	assert.Equal(t, result.JobIDs[0], publisher.published[0].JobID)
	assert.Equal(t, modelA, publisher.published[0].ModelID)
	assert.Equal(t, modelB, publisher.published[1].ModelID)

	for _, jobID := range result.JobIDs {
		job, err := st.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, job.Status)
		assert.Equal(t, &owner, job.OwnerID)
	}
}

func TestSubmitRejectsUnknownModel(t *testing.T) {
	st := storetest.New()
	service := NewService(st, cachetest.New(), &capturingPublisher{}, time.Hour)

	known := seedModel(t, st, true)
	owner := uuid.New()

	_, err := service.Submit(context.Background(), SubmitRequest{
		Kind:     models.JobKindGeneric,
		OwnerID:  &owner,
		ModelIDs: []uuid.UUID{known, uuid.New()},
		Input:    json.RawMessage(`{"prompt":"hello"}`),
	})
	require.ErrorIs(t, err, ErrModelUnavailable)

	// All-or-nothing: the valid model must not have produced a job.
	jobs, total, listErr := st.ListJobs(context.Background(), store.JobFilter{OwnerID: owner})
	require.NoError(t, listErr)
	assert.Empty(t, jobs)
	assert.Zero(t, total)
}

func TestSubmitRejectsInactiveModel(t *testing.T) {
	st := storetest.New()
	service := NewService(st, cachetest.New(), &capturingPublisher{}, time.Hour)

	inactive := seedModel(t, st, false)

	_, err := service.Submit(context.Background(), SubmitRequest{
		Kind:     models.JobKindReview,
		ModelIDs: []uuid.UUID{inactive},
		Input:    json.RawMessage(`{"diff":"..."}`),
	})
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestSubmitValidation(t *testing.T) {
	st := storetest.New()
	service := NewService(st, cachetest.New(), &capturingPublisher{}, time.Hour)
	model := seedModel(t, st, true)

	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr error
	}{
		{
			name:    "unknown kind",
			req:     SubmitRequest{Kind: "translation_request", ModelIDs: []uuid.UUID{model}, Input: json.RawMessage(`{}`)},
			wantErr: ErrInvalidKind,
		},
		{
			name:    "empty input",
			req:     SubmitRequest{Kind: models.JobKindGeneric, ModelIDs: []uuid.UUID{model}},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "malformed input",
			req:     SubmitRequest{Kind: models.JobKindGeneric, ModelIDs: []uuid.UUID{model}, Input: json.RawMessage(`{"broken`)},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "no models",
			req:     SubmitRequest{Kind: models.JobKindGeneric, Input: json.RawMessage(`{}`)},
			wantErr: ErrNoModels,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Submit(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubmitSurvivesPublishFailure(t *testing.T) {
	st := storetest.New()
	publisher := &capturingPublisher{publishErr: context.DeadlineExceeded}
	service := NewService(st, cachetest.New(), publisher, time.Hour)
	model := seedModel(t, st, true)

	result, err := service.Submit(context.Background(), SubmitRequest{
		Kind:     models.JobKindGeneric,
		ModelIDs: []uuid.UUID{model},
		Input:    json.RawMessage(`{"prompt":"hi"}`),
	})
	require.NoError(t, err)
	require.Len(t, result.JobIDs, 1)

	// The job stays pending; the reconciler republishes it later.
	job, err := st.GetJob(context.Background(), result.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestGetJobAuthorization(t *testing.T) {
	st := storetest.New()
	service := NewService(st, cachetest.New(), &capturingPublisher{}, time.Hour)
	model := seedModel(t, st, true)

	owner := uuid.New()
	stranger := uuid.New()
	result, err := service.Submit(context.Background(), SubmitRequest{
		Kind:     models.JobKindGeneric,
		OwnerID:  &owner,
		ModelIDs: []uuid.UUID{model},
		Input:    json.RawMessage(`{"prompt":"hi"}`),
	})
	require.NoError(t, err)
	jobID := result.JobIDs[0]

	_, err = service.GetJob(context.Background(), jobID, &owner)
	assert.NoError(t, err)

	_, err = service.GetJob(context.Background(), jobID, &stranger)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = service.GetJob(context.Background(), jobID, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGetResultRequiresCompletion(t *testing.T) {
	st := storetest.New()
	ca := cachetest.New()
	service := NewService(st, ca, &capturingPublisher{}, time.Hour)
	model := seedModel(t, st, true)

	result, err := service.Submit(context.Background(), SubmitRequest{
		Kind:     models.JobKindGeneric,
		ModelIDs: []uuid.UUID{model},
		Input:    json.RawMessage(`{"prompt":"hi"}`),
	})
	require.NoError(t, err)
	jobID := result.JobIDs[0]

	_, _, err = service.GetResult(context.Background(), jobID, nil)
	require.ErrorIs(t, err, ErrResultNotReady)

	ok, err := st.MarkJobProcessing(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.MarkJobCompleted(context.Background(), jobID, json.RawMessage(`{"text":"done"}`))
	require.NoError(t, err)
	require.True(t, ok)

	job, payload, err := service.GetResult(context.Background(), jobID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.JSONEq(t, `{"text":"done"}`, string(payload))

	// The read must have backfilled the cache mirror.
	cached, ok2, err := ca.GetJobResult(context.Background(), jobID, model)
	require.NoError(t, err)
	require.True(t, ok2)
	assert.JSONEq(t, `{"text":"done"}`, string(cached))
}
