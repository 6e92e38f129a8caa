// Package storetest provides an in-memory Store for unit tests. It
// mirrors the compare-and-swap transition semantics of the Postgres
// implementation so worker and reconciler tests exercise the same
// no-op behavior on duplicate deliveries.
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/inferq/internal/store"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

type MemStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	models    map[uuid.UUID]*models.ProviderModel
	overrides map[string]*models.ProjectModelOverride
	apiKeys   map[uuid.UUID]*models.APIKey
}

func New() *MemStore {
	return &MemStore{
		jobs:      make(map[uuid.UUID]*models.Job),
		models:    make(map[uuid.UUID]*models.ProviderModel),
		overrides: make(map[string]*models.ProjectModelOverride),
		apiKeys:   make(map[uuid.UUID]*models.APIKey),
	}
}

func overrideKey(projectID, modelID uuid.UUID) string {
	return projectID.String() + "/" + modelID.String()
}

// AddProviderModel seeds a model record.
func (m *MemStore) AddProviderModel(model *models.ProviderModel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *model
	m.models[model.ID] = &copied
}

// AddProjectModelOverride seeds a project-level override.
func (m *MemStore) AddProjectModelOverride(override *models.ProjectModelOverride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *override
	m.overrides[overrideKey(override.ProjectID, override.ModelID)] = &copied
}

// SetCreatedAt backdates a job for tests that need aged records.
func (m *MemStore) SetCreatedAt(id uuid.UUID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.CreatedAt = t
	}
}

// SetStartedAt backdates a processing job's start time.
func (m *MemStore) SetStartedAt(id uuid.UUID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.StartedAt = &t
	}
}

func (m *MemStore) Ping(context.Context) error { return nil }

func (m *MemStore) GetProviderModel(_ context.Context, id uuid.UUID) (*models.ProviderModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *model
	return &copied, nil
}

func (m *MemStore) ListProviderModels(_ context.Context, activeOnly bool) ([]*models.ProviderModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ProviderModel, 0, len(m.models))
	for _, model := range m.models {
		if activeOnly && !model.IsActive {
			continue
		}
		copied := *model
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) GetProjectModelOverride(_ context.Context, projectID, modelID uuid.UUID) (*models.ProjectModelOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	override, ok := m.overrides[overrideKey(projectID, modelID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *override
	return &copied, nil
}

func (m *MemStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, key := range m.apiKeys {
		if key.KeyPrefix == prefix {
			copied := *key
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MemStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.apiKeys[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	key.LastUsedAt = &now
	return nil
}

func (m *MemStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *key
	m.apiKeys[key.ID] = &copied
	return nil
}

func (m *MemStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return store.ErrDuplicateKey
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *MemStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *MemStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Job
	for _, job := range m.jobs {
		if job.OwnerID == nil || *job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		copied := *job
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *MemStore) MarkJobProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, models.JobStatusPending, func(job *models.Job) {
		now := time.Now().UTC()
		job.Status = models.JobStatusProcessing
		job.StartedAt = &now
	})
}

func (m *MemStore) MarkJobCompleted(_ context.Context, id uuid.UUID, result json.RawMessage) (bool, error) {
	return m.transition(id, models.JobStatusProcessing, func(job *models.Job) {
		now := time.Now().UTC()
		job.Status = models.JobStatusCompleted
		job.Result = result
		job.ErrorMessage = nil
		job.CompletedAt = &now
	})
}

func (m *MemStore) MarkJobFailed(_ context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	return m.transition(id, models.JobStatusProcessing, func(job *models.Job) {
		now := time.Now().UTC()
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &errorMessage
		job.CompletedAt = &now
	})
}

func (m *MemStore) ReopenJob(_ context.Context, id uuid.UUID, input json.RawMessage) (bool, error) {
	return m.transition(id, models.JobStatusFailed, func(job *models.Job) {
		job.Status = models.JobStatusPending
		job.Input = input
		job.Result = nil
		job.ErrorMessage = nil
		job.StartedAt = nil
		job.CompletedAt = nil
	})
}

func (m *MemStore) transition(id uuid.UUID, from string, apply func(*models.Job)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != from {
		return false, nil
	}
	apply(job)
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemStore) ListPendingJobsOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if job.Status == models.JobStatusPending && job.CreatedAt.Before(cutoff) {
			copied := *job
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ListStuckProcessingJobs(_ context.Context, cutoff time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if job.Status == models.JobStatusProcessing && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MemStore) ListRecentFailedJobs(_ context.Context, since time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if job.Status == models.JobStatusFailed && job.CompletedAt != nil && job.CompletedAt.After(since) {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

var _ store.Store = (*MemStore)(nil)
