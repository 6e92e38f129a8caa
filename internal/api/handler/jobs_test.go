package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/kiranshivaraju/inferq/internal/api/middleware"
	"github.com/kiranshivaraju/inferq/internal/jobs"
	"github.com/kiranshivaraju/inferq/internal/store"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

type fakeJobService struct {
	submitFunc    func(ctx context.Context, req jobs.SubmitRequest) (*jobs.SubmitResult, error)
	getJobFunc    func(ctx context.Context, jobID uuid.UUID, caller *uuid.UUID) (*models.Job, error)
	getResultFunc func(ctx context.Context, jobID uuid.UUID, caller *uuid.UUID) (*models.Job, json.RawMessage, error)
	listJobsFunc  func(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

func (f *fakeJobService) Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.SubmitResult, error) {
	return f.submitFunc(ctx, req)
}

func (f *fakeJobService) GetJob(ctx context.Context, jobID uuid.UUID, caller *uuid.UUID) (*models.Job, error) {
	return f.getJobFunc(ctx, jobID, caller)
}

func (f *fakeJobService) GetResult(ctx context.Context, jobID uuid.UUID, caller *uuid.UUID) (*models.Job, json.RawMessage, error) {
	return f.getResultFunc(ctx, jobID, caller)
}

func (f *fakeJobService) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	return f.listJobsFunc(ctx, filter)
}

func routeJob(method, pattern string, h http.HandlerFunc) chi.Router {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	return r
}

func TestSubmitJobHandler(t *testing.T) {
	modelID := uuid.New()
	jobID := uuid.New()

	t.Run("accepted", func(t *testing.T) {
		svc := &fakeJobService{
			submitFunc: func(_ context.Context, req jobs.SubmitRequest) (*jobs.SubmitResult, error) {
				assert.Equal(t, models.JobKindGeneric, req.Kind)
				assert.Equal(t, []uuid.UUID{modelID}, req.ModelIDs)
				return &jobs.SubmitResult{JobIDs: []uuid.UUID{jobID}, Status: models.JobStatusPending}, nil
			},
		}

		body := `{"kind":"generic_request","model_ids":["` + modelID.String() + `"],"input":{"prompt":"hi"}}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
		rec := httptest.NewRecorder()
		NewSubmitJobHandler(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		var envelope struct {
			Data jobs.SubmitResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
		assert.Equal(t, []uuid.UUID{jobID}, envelope.Data.JobIDs)
		assert.Equal(t, models.JobStatusPending, envelope.Data.Status)
	})

	t.Run("model unavailable is 400", func(t *testing.T) {
		svc := &fakeJobService{
			submitFunc: func(context.Context, jobs.SubmitRequest) (*jobs.SubmitResult, error) {
				return nil, jobs.ErrModelUnavailable
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
			strings.NewReader(`{"kind":"generic_request","model_ids":["`+modelID.String()+`"],"input":{}}`))
		rec := httptest.NewRecorder()
		NewSubmitJobHandler(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MODEL_UNAVAILABLE")
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		svc := &fakeJobService{}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"kind":`))
		rec := httptest.NewRecorder()
		NewSubmitJobHandler(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
	})
}

func TestGetJobHandler(t *testing.T) {
	jobID := uuid.New()
	started := time.Now().UTC().Add(-2 * time.Second)
	completed := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		svc := &fakeJobService{
			getJobFunc: func(_ context.Context, id uuid.UUID, _ *uuid.UUID) (*models.Job, error) {
				require.Equal(t, jobID, id)
				return &models.Job{
					ID:          jobID,
					Kind:        models.JobKindGeneric,
					Status:      models.JobStatusCompleted,
					ModelID:     uuid.New(),
					Result:      json.RawMessage(`{"status":"success","text":"done"}`),
					StartedAt:   &started,
					CompletedAt: &completed,
				}, nil
			},
		}

		router := routeJob(http.MethodGet, "/api/v1/jobs/{jobID}", NewGetJobHandler(svc))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var envelope struct {
			Data jobStatusView `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
		assert.Equal(t, models.JobStatusCompleted, envelope.Data.Status)
		assert.True(t, envelope.Data.IsComplete)
		assert.JSONEq(t, `{"status":"success","text":"done"}`, string(envelope.Data.Result))
		require.NotNil(t, envelope.Data.ProcessingSecs)
		assert.Greater(t, *envelope.Data.ProcessingSecs, 0.0)
	})

	t.Run("pending job is not complete", func(t *testing.T) {
		svc := &fakeJobService{
			getJobFunc: func(context.Context, uuid.UUID, *uuid.UUID) (*models.Job, error) {
				return &models.Job{
					ID:      jobID,
					Kind:    models.JobKindGeneric,
					Status:  models.JobStatusPending,
					ModelID: uuid.New(),
				}, nil
			},
		}

		router := routeJob(http.MethodGet, "/api/v1/jobs/{jobID}", NewGetJobHandler(svc))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"is_complete":false`)
		assert.NotContains(t, rec.Body.String(), `"result"`)
	})

	t.Run("unknown job is 404", func(t *testing.T) {
		svc := &fakeJobService{
			getJobFunc: func(context.Context, uuid.UUID, *uuid.UUID) (*models.Job, error) {
				return nil, store.ErrNotFound
			},
		}

		router := routeJob(http.MethodGet, "/api/v1/jobs/{jobID}", NewGetJobHandler(svc))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("foreign owner is 403", func(t *testing.T) {
		svc := &fakeJobService{
			getJobFunc: func(context.Context, uuid.UUID, *uuid.UUID) (*models.Job, error) {
				return nil, jobs.ErrForbidden
			},
		}

		router := routeJob(http.MethodGet, "/api/v1/jobs/{jobID}", NewGetJobHandler(svc))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("non-uuid id is 400", func(t *testing.T) {
		router := routeJob(http.MethodGet, "/api/v1/jobs/{jobID}", NewGetJobHandler(&fakeJobService{}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetResultHandler(t *testing.T) {
	jobID := uuid.New()

	t.Run("completed job returns result", func(t *testing.T) {
		svc := &fakeJobService{
			getResultFunc: func(context.Context, uuid.UUID, *uuid.UUID) (*models.Job, json.RawMessage, error) {
				return &models.Job{ID: jobID, Status: models.JobStatusCompleted, ModelID: uuid.New()},
					json.RawMessage(`{"status":"success","text":"done"}`), nil
			},
		}

		router := routeJob(http.MethodGet, "/api/v1/jobs/{jobID}/result", NewGetResultHandler(svc))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/result", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"text":"done"`)
	})

	t.Run("incomplete job is 400", func(t *testing.T) {
		svc := &fakeJobService{
			getResultFunc: func(context.Context, uuid.UUID, *uuid.UUID) (*models.Job, json.RawMessage, error) {
				return nil, nil, jobs.ErrResultNotReady
			},
		}

		router := routeJob(http.MethodGet, "/api/v1/jobs/{jobID}/result", NewGetResultHandler(svc))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/result", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "RESULT_NOT_READY")
	})
}

func TestListJobsHandler(t *testing.T) {
	owner := uuid.New()

	t.Run("anonymous is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		rec := httptest.NewRecorder()
		NewListJobsHandler(&fakeJobService{}).ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("filters and pagination pass through", func(t *testing.T) {
		svc := &fakeJobService{
			listJobsFunc: func(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
				assert.Equal(t, owner, filter.OwnerID)
				assert.Equal(t, models.JobStatusCompleted, filter.Status)
				assert.Equal(t, models.JobKindAnalysis, filter.Kind)
				assert.Equal(t, 5, filter.Limit)
				assert.Equal(t, 10, filter.Offset)
				return []*models.Job{{ID: uuid.New(), Status: models.JobStatusCompleted}}, 42, nil
			},
		}

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/jobs?status=completed&kind=analysis_request&limit=5&offset=10", nil)
		req = req.WithContext(mw.SetOwnerID(req.Context(), owner))
		rec := httptest.NewRecorder()
		NewListJobsHandler(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var envelope struct {
			Data []jobStatusView `json:"data"`
			Meta struct {
				Total   int  `json:"total"`
				HasNext bool `json:"has_next"`
			} `json:"meta"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
		assert.Len(t, envelope.Data, 1)
		assert.Equal(t, 42, envelope.Meta.Total)
		assert.True(t, envelope.Meta.HasNext)
	})

	t.Run("invalid status filter is 400", func(t *testing.T) {
		svc := &fakeJobService{
			listJobsFunc: func(context.Context, store.JobFilter) ([]*models.Job, int, error) {
				return nil, 0, jobs.ErrInvalidStatus
			},
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=sleeping", nil)
		req = req.WithContext(mw.SetOwnerID(req.Context(), owner))
		rec := httptest.NewRecorder()
		NewListJobsHandler(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
