package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/inferq/internal/api/response"
)

// Pinger is anything that can report liveness of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// Degraded dependencies produce 503 with per-component detail.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		healthy := true

		if err := db.Ping(r.Context()); err != nil {
			components["database"] = err.Error()
			healthy = false
		}
		if err := cache.Ping(r.Context()); err != nil {
			components["cache"] = err.Error()
			healthy = false
		}

		status := "ok"
		if !healthy {
			status = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", status, components)
			return
		}

		response.JSON(w, struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}{Status: status, Components: components})
	}
}
