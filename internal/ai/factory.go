package ai

import (
	"fmt"

	"github.com/kiranshivaraju/inferq/internal/ai/anthropic"
	"github.com/kiranshivaraju/inferq/internal/ai/gemini"
	"github.com/kiranshivaraju/inferq/internal/ai/openai"
	"github.com/kiranshivaraju/inferq/internal/config"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

// Registry resolves a provider name from a model record to a backend
// client. All backends are constructed once at server startup; which
// one serves a given job depends on the model the job was submitted
// against.
type Registry struct {
	providers map[string]models.Provider
}

func NewRegistry(cfg config.AIConfig) *Registry {
	return &Registry{
		providers: map[string]models.Provider{
			models.ProviderOpenAI:    openai.NewProvider(cfg.OpenAI, cfg.RequestTimeout),
			models.ProviderAnthropic: anthropic.NewProvider(cfg.Anthropic, cfg.RequestTimeout),
			models.ProviderGemini:    gemini.NewProvider(cfg.Gemini, cfg.RequestTimeout),
		},
	}
}

// NewTestRegistry builds a registry over explicit providers, keyed by
// their Name(). Used by tests to inject mocks.
func NewTestRegistry(providers ...models.Provider) *Registry {
	registry := &Registry{providers: make(map[string]models.Provider, len(providers))}
	for _, provider := range providers {
		registry.providers[provider.Name()] = provider
	}
	return registry
}

func (r *Registry) Provider(name string) (models.Provider, error) {
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q must be one of openai, anthropic, gemini", ErrUnknownProvider, name)
	}
	return provider, nil
}
