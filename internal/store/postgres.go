package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Provider models ---

func (s *PostgresStore) GetProviderModel(ctx context.Context, id uuid.UUID) (*models.ProviderModel, error) {
	var m models.ProviderModel
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, provider, api_key, temperature, max_tokens, streaming, is_active, created_at, updated_at
		 FROM provider_models WHERE id = $1`, id,
	).Scan(&m.ID, &m.Name, &m.Provider, &m.APIKey, &m.Temperature, &m.MaxTokens,
		&m.Streaming, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider model: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListProviderModels(ctx context.Context, activeOnly bool) ([]*models.ProviderModel, error) {
	query := `SELECT id, name, provider, api_key, temperature, max_tokens, streaming, is_active, created_at, updated_at
	 FROM provider_models`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list provider models: %w", err)
	}
	defer rows.Close()

	var out []*models.ProviderModel
	for rows.Next() {
		var m models.ProviderModel
		if err := rows.Scan(&m.ID, &m.Name, &m.Provider, &m.APIKey, &m.Temperature,
			&m.MaxTokens, &m.Streaming, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider model: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetProjectModelOverride(ctx context.Context, projectID, modelID uuid.UUID) (*models.ProjectModelOverride, error) {
	var o models.ProjectModelOverride
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, model_id, api_key, temperature, max_tokens, is_active, created_at, updated_at
		 FROM project_model_overrides WHERE project_id = $1 AND model_id = $2 AND is_active`,
		projectID, modelID,
	).Scan(&o.ID, &o.ProjectID, &o.ModelID, &o.APIKey, &o.Temperature, &o.MaxTokens,
		&o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project model override: %w", err)
	}
	return &o, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, kind, status, owner_id, model_id, project_id, input, result, error_message, created_at, started_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Kind, &j.Status, &j.OwnerID, &j.ModelID, &j.ProjectID,
		&j.Input, &j.Result, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, kind, status, owner_id, model_id, project_id, input, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Kind, job.Status, job.OwnerID, job.ModelID, job.ProjectID,
		job.Input, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, filter.Kind)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	dataQuery := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// --- Guarded job transitions ---
//
// Each transition is a single conditional UPDATE keyed on the expected
// source status. RowsAffected == 0 means the job was not in that state
// (already handled, already terminal, or unknown) and the caller should
// treat the call as a no-op.

func (s *PostgresStore) MarkJobProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, models.JobStatusProcessing, models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark job processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkJobCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, result = $3, error_message = NULL, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, models.JobStatusCompleted, result, models.JobStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark job completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, result = NULL, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, models.JobStatusFailed, errorMessage, models.JobStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark job failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReopenJob moves a failed job back to pending with fresh input (the
// reconciler bumps the retry counter inside it) and cleared timing.
func (s *PostgresStore) ReopenJob(ctx context.Context, id uuid.UUID, input json.RawMessage) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, input = $3, error_message = NULL, result = NULL,
		        started_at = NULL, completed_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, models.JobStatusPending, input, models.JobStatusFailed)
	if err != nil {
		return false, fmt.Errorf("reopen job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Reconciler queries ---

func (s *PostgresStore) ListPendingJobsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`,
		models.JobStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) ListStuckProcessingJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND started_at < $2 ORDER BY started_at ASC`,
		models.JobStatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck processing jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) ListRecentFailedJobs(ctx context.Context, since time.Time) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND completed_at >= $2 ORDER BY completed_at ASC`,
		models.JobStatusFailed, since)
	if err != nil {
		return nil, fmt.Errorf("list recent failed jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
