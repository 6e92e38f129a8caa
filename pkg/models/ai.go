// Package models contains shared data models used across the inferq codebase.
package models

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation sent to a provider backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the normalized input every provider accepts:
// an ordered list of turns, a temperature, and a max-output bound.
// Credentials travel with the request because API keys are managed per
// model (and per project override) in the record store, not per process.
type CompletionRequest struct {
	Model       string
	APIKey      string
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   int
}

// Provider is the core interface that all LLM backends must implement.
// Never call specific providers directly — always inject this interface.
type Provider interface {
	// Complete issues a single round-trip chat completion.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream issues a streaming completion, invoking fn for each text
	// fragment. A non-nil error from fn aborts the stream.
	Stream(ctx context.Context, req CompletionRequest, fn func(chunk string) error) error
	// StreamsByDefault reports whether this backend prefers streaming
	// when the model carries no explicit streaming flag.
	StreamsByDefault() bool
	// Name returns the provider identifier (e.g., "openai").
	Name() string
}

const (
	CompletionStatusSuccess = "success"
	CompletionStatusError   = "error"
)

// Completion is the explicit result type of the provider abstraction.
// Exactly one of Text or Err is meaningful, selected by Status.
type Completion struct {
	Status      string                `json:"status"`
	Text        string                `json:"text,omitempty"`
	Err         string                `json:"error,omitempty"`
	Warning     string                `json:"warning,omitempty"`
	Diagnostics CompletionDiagnostics `json:"diagnostics"`
}

// CompletionDiagnostics records how a completion was obtained.
type CompletionDiagnostics struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	Streamed       bool   `json:"streamed"`
	StreamFellBack bool   `json:"stream_fell_back,omitempty"`
	Continuations  int    `json:"continuations,omitempty"`
}
