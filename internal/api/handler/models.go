package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/inferq/internal/api/response"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

// ModelLister defines the interface the models handler depends on.
type ModelLister interface {
	ListProviderModels(ctx context.Context, activeOnly bool) ([]*models.ProviderModel, error)
}

type providerModelView struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Provider    string    `json:"provider"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Streaming   *bool     `json:"streaming,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewListModelsHandler returns an http.HandlerFunc for GET /api/v1/models.
// Only active models are exposed; credentials never leave the store.
func NewListModelsHandler(lister ModelLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := lister.ListProviderModels(r.Context(), true)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list models", nil)
			return
		}

		views := make([]providerModelView, 0, len(list))
		for _, model := range list {
			views = append(views, providerModelView{
				ID:          model.ID,
				Name:        model.Name,
				Provider:    model.Provider,
				Temperature: model.Temperature,
				MaxTokens:   model.MaxTokens,
				Streaming:   model.Streaming,
				CreatedAt:   model.CreatedAt,
			})
		}
		response.JSON(w, views)
	}
}
