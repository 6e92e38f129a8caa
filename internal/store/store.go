package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through
// here. Job status writes are compare-and-swap: each Mark/Reopen method
// only applies when the job is in the expected source state and reports
// whether it did, so duplicate broker deliveries and concurrent
// reconciler sweeps degrade to no-ops instead of illegal transitions.
type Store interface {
	Ping(ctx context.Context) error

	GetProviderModel(ctx context.Context, id uuid.UUID) (*models.ProviderModel, error)
	ListProviderModels(ctx context.Context, activeOnly bool) ([]*models.ProviderModel, error)
	GetProjectModelOverride(ctx context.Context, projectID, modelID uuid.UUID) (*models.ProjectModelOverride, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)

	MarkJobProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkJobCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) (bool, error)
	MarkJobFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error)
	ReopenJob(ctx context.Context, id uuid.UUID, input json.RawMessage) (bool, error)

	ListPendingJobsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
	ListStuckProcessingJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
	ListRecentFailedJobs(ctx context.Context, since time.Time) ([]*models.Job, error)
}

// JobFilter narrows ListJobs to one owner's jobs with optional
// status/kind filters and pagination.
type JobFilter struct {
	OwnerID uuid.UUID
	Status  string
	Kind    string
	Limit   int
	Offset  int
}
