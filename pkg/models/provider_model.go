package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ProviderModel is a configured LLM backend: which provider variant to
// dispatch to, the model identifier, credentials, and default request
// parameters. Providers are selected by the explicit Provider field,
// never by matching the model name.
type ProviderModel struct {
	ID          uuid.UUID `db:"id"          json:"id"`
	Name        string    `db:"name"        json:"name"`
	Provider    string    `db:"provider"    json:"provider"`
	APIKey      string    `db:"api_key"     json:"-"`
	Temperature float64   `db:"temperature" json:"temperature"`
	MaxTokens   int       `db:"max_tokens"  json:"max_tokens"`
	// Streaming overrides the provider's streaming default when set.
	// Left nil, the size heuristic and provider default decide.
	Streaming *bool     `db:"streaming"  json:"streaming,omitempty"`
	IsActive  bool      `db:"is_active"  json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProjectModelOverride carries per-project parameter overrides for a
// provider model. Nil fields fall through to the model defaults.
type ProjectModelOverride struct {
	ID          uuid.UUID `db:"id"          json:"id"`
	ProjectID   uuid.UUID `db:"project_id"  json:"project_id"`
	ModelID     uuid.UUID `db:"model_id"    json:"model_id"`
	APIKey      *string   `db:"api_key"     json:"-"`
	Temperature *float64  `db:"temperature" json:"temperature,omitempty"`
	MaxTokens   *int      `db:"max_tokens"  json:"max_tokens,omitempty"`
	IsActive    bool      `db:"is_active"   json:"is_active"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"  json:"updated_at"`
}
