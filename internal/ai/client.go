// Package ai wraps the provider backends behind a single client that
// handles streaming, fallback, and truncation recovery. Callers get a
// models.Completion back; transport details stay in here.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/inferq/internal/config"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

// streamingTokenThreshold forces streaming for large requested outputs
// even when the model record carries no explicit streaming flag:
// buffered responses of that size hit proxy timeouts in practice.
const streamingTokenThreshold = 8000

const continuationPrompt = "Continue exactly from where you left off. Do not repeat any text you have already written."

// Client executes completions against the registered provider
// backends. Streaming is preferred where the model allows it, and
// responses that look truncated are extended by follow-up requests
// before being returned.
type Client struct {
	registry *Registry
	retries  int
	backoff  time.Duration
}

func NewClient(registry *Registry, cfg config.AIConfig) *Client {
	retries := cfg.ContinuationRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.ContinuationBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Client{registry: registry, retries: retries, backoff: backoff}
}

// GetResponse runs req against model's backend and always returns a
// Completion; provider failures surface as Status=error, never as a Go
// error, so every outcome is recordable on the job.
func (c *Client) GetResponse(ctx context.Context, model *models.ProviderModel, req models.CompletionRequest) models.Completion {
	diag := models.CompletionDiagnostics{
		Provider: model.Provider,
		Model:    req.Model,
	}

	provider, err := c.registry.Provider(model.Provider)
	if err != nil {
		return errorCompletion(diag, err)
	}

	stream := useStreaming(model, provider, req.MaxTokens)
	text, streamed, fellBack, err := c.runCompletion(ctx, provider, req, stream)
	if err != nil {
		return errorCompletion(diag, err)
	}
	diag.Streamed = streamed
	diag.StreamFellBack = fellBack

	var warning string
	for attempt := 0; attempt < c.retries && looksIncomplete(text); attempt++ {
		select {
		case <-ctx.Done():
			return errorCompletion(diag, ctx.Err())
		case <-time.After(c.backoff):
		}

		more, _, _, err := c.runCompletion(ctx, provider, continuationRequest(req, text), stream)
		if err != nil {
			warning = fmt.Sprintf("continuation attempt %d failed: %v", attempt+1, err)
			break
		}

		stripped := stripOverlap(text, more)
		if strings.TrimSpace(stripped) == "" {
			break
		}
		text += stripped
		diag.Continuations++
	}

	if warning == "" && looksIncomplete(text) {
		warning = fmt.Sprintf("response may be incomplete after %d continuation attempts", diag.Continuations)
	}

	return models.Completion{
		Status:      models.CompletionStatusSuccess,
		Text:        text,
		Warning:     warning,
		Diagnostics: diag,
	}
}

// runCompletion executes one provider round trip. A failed stream is
// retried once without streaming before the error is surfaced: a
// mid-stream disconnect says nothing about whether a buffered request
// would succeed.
func (c *Client) runCompletion(ctx context.Context, provider models.Provider, req models.CompletionRequest, stream bool) (text string, streamed, fellBack bool, err error) {
	if stream {
		var builder strings.Builder
		streamErr := provider.Stream(ctx, req, func(chunk string) error {
			builder.WriteString(chunk)
			return nil
		})
		if streamErr == nil {
			return builder.String(), true, false, nil
		}
		if ctx.Err() != nil {
			return "", true, false, streamErr
		}

		text, err = provider.Complete(ctx, req)
		if err != nil {
			return "", true, true, fmt.Errorf("stream failed (%v); fallback failed: %w", streamErr, err)
		}
		return text, false, true, nil
	}

	text, err = provider.Complete(ctx, req)
	return text, false, false, err
}

// useStreaming resolves the per-model tri-state flag: an explicit
// setting wins, very large outputs force streaming, otherwise the
// backend's own preference applies.
func useStreaming(model *models.ProviderModel, provider models.Provider, maxTokens int) bool {
	if model.Streaming != nil {
		return *model.Streaming
	}
	if maxTokens > streamingTokenThreshold {
		return true
	}
	return provider.StreamsByDefault()
}

func continuationRequest(req models.CompletionRequest, soFar string) models.CompletionRequest {
	messages := make([]models.ChatMessage, 0, len(req.Messages)+2)
	messages = append(messages, req.Messages...)
	messages = append(messages,
		models.ChatMessage{Role: models.RoleAssistant, Content: soFar},
		models.ChatMessage{Role: models.RoleUser, Content: continuationPrompt},
	)
	req.Messages = messages
	return req
}

func errorCompletion(diag models.CompletionDiagnostics, err error) models.Completion {
	return models.Completion{
		Status:      models.CompletionStatusError,
		Err:         err.Error(),
		Diagnostics: diag,
	}
}
