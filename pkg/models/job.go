package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobKindAnalysis = "analysis_request"
	JobKindReview   = "review_request"
	JobKindGeneric  = "generic_request"
)

// ValidJobKind reports whether kind is one of the accepted job kinds.
func ValidJobKind(kind string) bool {
	switch kind {
	case JobKindAnalysis, JobKindReview, JobKindGeneric:
		return true
	}
	return false
}

// Job tracks one unit of provider work and its outcome. The API returns a
// job_id on POST /api/v1/jobs; the client polls GET /api/v1/jobs/{job_id}
// until status is completed or failed. Jobs are never deleted here;
// retention is a housekeeping concern.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	Kind         string          `db:"kind"          json:"kind"`
	Status       string          `db:"status"        json:"status"`
	OwnerID      *uuid.UUID      `db:"owner_id"      json:"owner_id,omitempty"`
	ModelID      uuid.UUID       `db:"model_id"      json:"model_id"`
	ProjectID    *uuid.UUID      `db:"project_id"    json:"project_id,omitempty"`
	Input        json.RawMessage `db:"input"         json:"input"`
	Result       json.RawMessage `db:"result"        json:"result,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// IsComplete reports whether the job reached a terminal state.
func (j *Job) IsComplete() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ProcessingTime returns the wall-clock processing duration in seconds,
// or nil if the job has not both started and finished.
func (j *Job) ProcessingTime() *float64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return nil
	}
	secs := j.CompletedAt.Sub(*j.StartedAt).Seconds()
	return &secs
}

// RetryCount reads the retry counter the reconciler stores inside the
// job input under "retry_count". Missing or malformed metadata counts
// as zero.
func (j *Job) RetryCount() int {
	if len(j.Input) == 0 {
		return 0
	}
	var meta struct {
		RetryCount int `json:"retry_count"`
	}
	if err := json.Unmarshal(j.Input, &meta); err != nil {
		return 0
	}
	return meta.RetryCount
}
