// Package mock provides a configurable models.Provider for testing.
package mock

import (
	"context"

	"github.com/kiranshivaraju/inferq/internal/ai"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

// MockProvider satisfies models.Provider for testing.
type MockProvider struct {
	Name_             string
	StreamsByDefault_ bool
	CompleteFunc      func(ctx context.Context, req models.CompletionRequest) (string, error)
	StreamFunc        func(ctx context.Context, req models.CompletionRequest, fn func(chunk string) error) error

	// Calls records every request seen, in order, across both entry
	// points.
	Calls []models.CompletionRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) StreamsByDefault() bool { return m.StreamsByDefault_ }

func (m *MockProvider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	m.Calls = append(m.Calls, req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

func (m *MockProvider) Stream(ctx context.Context, req models.CompletionRequest, fn func(chunk string) error) error {
	m.Calls = append(m.Calls, req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req, fn)
	}
	return nil
}

// NewMockProvider returns a MockProvider that answers every request
// with the given text, streamed or not.
func NewMockProvider(text string) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			return text, nil
		},
		StreamFunc: func(_ context.Context, _ models.CompletionRequest, fn func(chunk string) error) error {
			return fn(text)
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			return "", err
		},
		StreamFunc: func(_ context.Context, _ models.CompletionRequest, _ func(chunk string) error) error {
			return err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
		StreamFunc: func(ctx context.Context, _ models.CompletionRequest, _ func(chunk string) error) error {
			<-ctx.Done()
			return ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements Provider.
var _ models.Provider = (*MockProvider)(nil)
