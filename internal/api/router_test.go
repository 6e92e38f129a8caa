package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/inferq/internal/api"
	"github.com/kiranshivaraju/inferq/internal/api/handler"
	mw "github.com/kiranshivaraju/inferq/internal/api/middleware"
	"github.com/kiranshivaraju/inferq/internal/cache/cachetest"
	"github.com/kiranshivaraju/inferq/internal/jobs"
	"github.com/kiranshivaraju/inferq/internal/queue"
	"github.com/kiranshivaraju/inferq/internal/store/storetest"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.JobMessage) error  { return nil }
func (nopPublisher) Notify(context.Context, queue.Notification) error { return nil }

func newTestServer(t *testing.T) (http.Handler, *storetest.MemStore, uuid.UUID) {
	t.Helper()
	st := storetest.New()
	ca := cachetest.New()

	modelID := uuid.New()
	st.AddProviderModel(&models.ProviderModel{
		ID:       modelID,
		Name:     "gpt-4o",
		Provider: models.ProviderOpenAI,
		IsActive: true,
	})

	service := jobs.NewService(st, ca, nopPublisher{}, time.Hour)
	router := api.NewRouter(api.Dependencies{
		Auth:             mw.NewAuth(st),
		RateLimit:        mw.NewRateLimit(ca, 1000),
		HealthHandler:    handler.NewHealthHandler(st, ca),
		SubmitJobHandler: handler.NewSubmitJobHandler(service),
		GetJobHandler:    handler.NewGetJobHandler(service),
		GetResultHandler: handler.NewGetResultHandler(service),
		ListJobsHandler:  handler.NewListJobsHandler(service),
		ListModels:       handler.NewListModelsHandler(st),
	})
	return router, st, modelID
}

func TestRouterSubmitAndPoll(t *testing.T) {
	router, _, modelID := newTestServer(t)

	body := `{"kind":"generic_request","model_ids":["` + modelID.String() + `"],"input":{"prompt":"hello"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted struct {
		Data struct {
			JobIDs []uuid.UUID `json:"job_ids"`
			Status string      `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Len(t, submitted.Data.JobIDs, 1)
	assert.Equal(t, models.JobStatusPending, submitted.Data.Status)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+submitted.Data.JobIDs[0].String(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)
}

func TestRouterListRequiresAuth(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterModelsAndHealth(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4o")
	// Credentials never appear in the listing.
	assert.NotContains(t, rec.Body.String(), "api_key")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRouterUnknownJobIs404(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
