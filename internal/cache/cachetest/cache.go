// Package cachetest provides an in-memory Cache for unit tests. TTLs
// are accepted and ignored; entries live until the test ends.
package cachetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/inferq/internal/cache"
)

type MemCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	counters map[string]int64
}

func New() *MemCache {
	return &MemCache{
		values:   make(map[string][]byte),
		counters: make(map[string]int64),
	}
}

func (c *MemCache) Ping(context.Context) error { return nil }

func (c *MemCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = append([]byte(nil), value...)
	return nil
}

func (c *MemCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (c *MemCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *MemCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error {
	return c.Set(ctx, cache.JobStatusKey(jobID), []byte(status), ttl)
}

func (c *MemCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	value, ok, err := c.Get(ctx, cache.JobStatusKey(jobID))
	return string(value), ok, err
}

func (c *MemCache) SetJobResult(ctx context.Context, jobID, modelID uuid.UUID, result []byte, ttl time.Duration) error {
	return c.Set(ctx, cache.JobResultKey(jobID, modelID), result, ttl)
}

func (c *MemCache) GetJobResult(ctx context.Context, jobID, modelID uuid.UUID) ([]byte, bool, error) {
	return c.Get(ctx, cache.JobResultKey(jobID, modelID))
}

func (c *MemCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*MemCache)(nil)
