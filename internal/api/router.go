// Package api assembles the HTTP surface: router, middleware stack, and
// route-to-handler bindings.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/inferq/internal/api/middleware"
	"github.com/kiranshivaraju/inferq/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	SubmitJobHandler http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	GetResultHandler http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	ListModels       http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all
// routes. Submission and polling allow anonymous access; everything
// else on the job surface requires a key.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.AuthenticateOptional)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/result", orNotImplemented(deps.GetResultHandler))
		r.Get("/api/v1/models", orNotImplemented(deps.ListModels))

		// The list endpoint authorizes against the owner in context, so
		// it sits behind the optional-auth group and rejects anonymous
		// callers itself with a 401.
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
