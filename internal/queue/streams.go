package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamsConfig configures the Redis Streams queue. Concurrency bounds
// how many handlers run at once; each occupies one slot for the full
// duration of its provider call.
type StreamsConfig struct {
	RequestsStream      string
	NotificationsStream string
	Group               string
	Consumer            string
	Concurrency         int
}

// StreamsQueue implements Publisher and Consumer backed by Redis
// Streams with a consumer group on the requests stream.
type StreamsQueue struct {
	client        *redis.Client
	requests      string
	notifications string
	group         string
	consumer      string
	concurrency   int
}

func NewStreamsQueue(ctx context.Context, client *redis.Client, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.RequestsStream == "" {
		cfg.RequestsStream = "llm_requests"
	}
	if cfg.NotificationsStream == "" {
		cfg.NotificationsStream = "llm_notifications"
	}
	if cfg.Group == "" {
		cfg.Group = "inferq_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}

	q := &StreamsQueue{
		client:        client,
		requests:      cfg.RequestsStream,
		notifications: cfg.NotificationsStream,
		group:         cfg.Group,
		consumer:      cfg.Consumer,
		concurrency:   cfg.Concurrency,
	}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *StreamsQueue) Publish(ctx context.Context, message JobMessage) error {
	values := map[string]any{
		"job_id":       message.JobID.String(),
		"kind":         message.Kind,
		"model_id":     message.ModelID.String(),
		"input":        string(message.Input),
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.Format(time.RFC3339Nano),
	}
	if message.OwnerID != nil {
		values["owner_id"] = message.OwnerID.String()
	}
	if message.ProjectID != nil {
		values["project_id"] = message.ProjectID.String()
	}

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.requests,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Notify(ctx context.Context, notification Notification) error {
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.notifications,
		Values: map[string]any{
			"kind":   notification.Kind,
			"job_id": notification.JobID.String(),
			"result": string(notification.Result),
		},
	}).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Consume reads the requests stream via the consumer group and invokes
// handler for each message, at most Concurrency at a time. Messages are
// always acknowledged after handling; handler errors are recorded on
// the job by the handler itself and recovered via the reconciler, so
// redelivery storms from permanently-broken input cannot occur.
func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, JobMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	slots := make(chan struct{}, q.concurrency)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.requests, ">"},
			Count:    int64(q.concurrency),
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				message, parseErr := parseStreamMessage(item)
				if parseErr != nil {
					slog.Error("dropping unparseable request message",
						"stream_id", item.ID, "error", parseErr)
					q.ack(ctx, item.ID)
					continue
				}

				slots <- struct{}{}
				go func(streamID string, message JobMessage) {
					defer func() { <-slots }()
					if err := handler(ctx, message); err != nil {
						slog.Error("request handler error",
							"job_id", message.JobID, "error", err)
					}
					q.ack(ctx, streamID)
				}(item.ID, message)
			}
		}
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.requests, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ack(ctx context.Context, streamID string) {
	if err := q.client.XAck(ctx, q.requests, q.group, streamID).Err(); err != nil {
		slog.Error("xack failed", "stream_id", streamID, "error", err)
		return
	}
	if err := q.client.XDel(ctx, q.requests, streamID).Err(); err != nil {
		slog.Error("xdel failed", "stream_id", streamID, "error", err)
	}
}

func parseStreamMessage(item redis.XMessage) (JobMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobIDString, err := getString("job_id")
	if err != nil {
		return JobMessage{}, err
	}
	jobID, err := uuid.Parse(jobIDString)
	if err != nil {
		return JobMessage{}, fmt.Errorf("invalid job_id: %w", err)
	}

	kind, err := getString("kind")
	if err != nil {
		return JobMessage{}, err
	}

	modelIDString, err := getString("model_id")
	if err != nil {
		return JobMessage{}, err
	}
	modelID, err := uuid.Parse(modelIDString)
	if err != nil {
		return JobMessage{}, fmt.Errorf("invalid model_id: %w", err)
	}

	inputString, err := getString("input")
	if err != nil {
		return JobMessage{}, err
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return JobMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return JobMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return JobMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return JobMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	message := JobMessage{
		JobID:       jobID,
		Kind:        kind,
		ModelID:     modelID,
		Input:       []byte(inputString),
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}

	if raw, ok := item.Values["owner_id"]; ok {
		if ownerID, err := uuid.Parse(fmt.Sprintf("%v", raw)); err == nil {
			message.OwnerID = &ownerID
		}
	}
	if raw, ok := item.Values["project_id"]; ok {
		if projectID, err := uuid.Parse(fmt.Sprintf("%v", raw)); err == nil {
			message.ProjectID = &projectID
		}
	}

	return message, nil
}
