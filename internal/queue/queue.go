// Package queue is the broker boundary: a requests topic carrying
// job-execution instructions and a notifications topic carrying
// completion events. Delivery is at-least-once; consumers must tolerate
// duplicate messages for the same job id.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobMessage is the envelope published to the requests topic. It is a
// flattened superset of what the worker needs so a handler can run
// without re-reading the record store on the hot path.
type JobMessage struct {
	JobID       uuid.UUID       `json:"job_id"`
	Kind        string          `json:"kind"`
	ModelID     uuid.UUID       `json:"model_id"`
	OwnerID     *uuid.UUID      `json:"owner_id,omitempty"`
	ProjectID   *uuid.UUID      `json:"project_id,omitempty"`
	Input       json.RawMessage `json:"input"`
	Attempt     int             `json:"attempt"`
	RequestedAt time.Time       `json:"requested_at"`
}

// Notification is the envelope published to the notifications topic
// when a job reaches a terminal state, for any external listener. Kind
// is "{job-kind}_complete" for successes and "{job-kind}_failed" for
// failures, with the failure detail in Result. This service never
// consumes the topic.
type Notification struct {
	Kind   string          `json:"kind"`
	JobID  uuid.UUID       `json:"job_id"`
	Result json.RawMessage `json:"result"`
}

// Publisher sends messages to the broker topics.
type Publisher interface {
	Publish(ctx context.Context, message JobMessage) error
	Notify(ctx context.Context, notification Notification) error
}

// Consumer delivers request messages to a handler. The message is
// acknowledged once the handler returns, whether or not it errored:
// failed jobs are recovered by the reconciler, not by broker
// redelivery.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, JobMessage) error) error
}
