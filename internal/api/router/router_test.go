package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/docflow/internal/api/dto"
	"github.com/cuongbtq/docflow/internal/api/handler"
	"github.com/cuongbtq/docflow/internal/api/router"
	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/internal/producer"
	"github.com/cuongbtq/docflow/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	jobs     map[uuid.UUID]*domain.Job
	docs     map[uuid.UUID]*domain.Document
	versions map[uuid.UUID][]domain.DocumentVersion
	runs     map[uuid.UUID]*domain.AIRun
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     map[uuid.UUID]*domain.Job{},
		docs:     map[uuid.UUID]*domain.Document{},
		versions: map[uuid.UUID][]domain.DocumentVersion{},
		runs:     map[uuid.UUID]*domain.AIRun{},
	}
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return job, nil
}

func (s *fakeStore) ListJobs(_ context.Context, f storage.JobFilter) ([]domain.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Job
	for _, j := range s.jobs {
		if j.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && string(j.Status) != f.Status {
			continue
		}
		if f.JobType != "" && string(j.Type) != f.JobType {
			continue
		}
		if f.Cursor != nil && !olderThan(j, f.Cursor) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[b].CreatedAt.Before(out[a].CreatedAt)
	})
	if len(out) > f.PageSize+1 {
		out = out[:f.PageSize+1]
	}
	return out, nil
}

func olderThan(j *domain.Job, c *storage.JobCursor) bool {
	if j.CreatedAt.Equal(c.CreatedAt) {
		return j.ID.String() < c.JobID.String()
	}
	return j.CreatedAt.Before(c.CreatedAt)
}

func (s *fakeStore) GetDocument(_ context.Context, id uuid.UUID) (*domain.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return doc, nil
}

func (s *fakeStore) ListDocuments(_ context.Context, projectID uuid.UUID) ([]domain.Document, error) {
	out := []domain.Document{}
	for _, d := range s.docs {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeStore) ListVersions(_ context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error) {
	return s.versions[documentID], nil
}

func (s *fakeStore) GetRun(_ context.Context, id uuid.UUID) (*domain.AIRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: ai run %s", domain.ErrNotFound, id)
	}
	return run, nil
}

func (s *fakeStore) ListRuns(_ context.Context, projectID uuid.UUID) ([]domain.AIRun, error) {
	out := []domain.AIRun{}
	for _, r := range s.runs {
		if r.ProjectID == projectID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeDocuments struct {
	uploads  []producer.UploadInput
	versions []producer.VersionInput
	err      error
}

func (f *fakeDocuments) result(projectID, createdBy uuid.UUID, fileName string, content []byte, n int) *producer.Upload {
	doc := &domain.Document{ID: uuid.New(), ProjectID: projectID, Title: fileName, CreatedBy: createdBy, CreatedAt: time.Now()}
	return &producer.Upload{
		Document: doc,
		Version: &domain.DocumentVersion{
			ID: uuid.New(), DocumentID: doc.ID, VersionNumber: n,
			ContentHash: domain.ContentHash(content), CreatedBy: createdBy, CreatedAt: time.Now(),
		},
		Job: &domain.Job{ID: uuid.New()},
	}
}

func (f *fakeDocuments) Upload(_ context.Context, in producer.UploadInput) (*producer.Upload, error) {
	f.uploads = append(f.uploads, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(in.ProjectID, in.CreatedBy, in.FileName, in.Content, 1), nil
}

func (f *fakeDocuments) AddVersion(_ context.Context, in producer.VersionInput) (*producer.Upload, error) {
	f.versions = append(f.versions, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(in.ProjectID, in.CreatedBy, in.FileName, in.Content, 2), nil
}

type fakeRuns struct {
	inputs []producer.CreateRunInput
	err    error
}

func (f *fakeRuns) Create(_ context.Context, in producer.CreateRunInput) (*domain.AIRun, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	jobID := uuid.New()
	return &domain.AIRun{
		ID:           uuid.New(),
		ProjectID:    in.ProjectID,
		JobID:        &jobID,
		RunType:      domain.RunTypeDocumentQA,
		Status:       domain.RunStatusCreated,
		InputPayload: json.RawMessage(`{"run_type":"DOCUMENT_QA"}`),
		CreatedAt:    time.Now(),
	}, nil
}

type fakeCache struct {
	statuses map[uuid.UUID]string
	err      error
}

func (c *fakeCache) SetJobStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	c.statuses[id] = status
	return nil
}

func (c *fakeCache) GetJobStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	s, ok := c.statuses[id]
	return s, ok, nil
}

func (c *fakeCache) Ping(context.Context) error { return nil }
func (c *fakeCache) Close() error               { return nil }

type dbHealth struct{ err error }

func (d dbHealth) HealthCheck(context.Context) error { return d.err }

type testEnv struct {
	store  *fakeStore
	docs   *fakeDocuments
	runs   *fakeRuns
	cache  *fakeCache
	router *gin.Engine
}

func newTestEnv(t *testing.T, maxUpload int64) *testEnv {
	t.Helper()
	env := &testEnv{
		store: newFakeStore(),
		docs:  &fakeDocuments{},
		runs:  &fakeRuns{},
		cache: &fakeCache{statuses: map[uuid.UUID]string{}},
	}
	env.router = router.SetupRouter(&handler.Dependencies{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		DB:             dbHealth{},
		Store:          env.store,
		Documents:      env.docs,
		Runs:           env.runs,
		Cache:          env.cache,
		MaxUploadBytes: maxUpload,
	})
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, url, fileName string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	unhealthy := router.SetupRouter(&handler.Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		DB:     dbHealth{err: errors.New("database health check failed: connection refused")},
		Store:  newFakeStore(),
	})
	w = httptest.NewRecorder()
	unhealthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	generated := w.Header().Get(router.RequestIDHeader)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(router.RequestIDHeader, "trace-42")
	w = env.do(req)
	assert.Equal(t, "trace-42", w.Header().Get(router.RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(httptest.NewRequest(http.MethodOptions, "/api/v1/jobs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-User-ID")
}

func TestUploadDocument(t *testing.T) {
	projectID := uuid.New()
	url := "/api/v1/projects/" + projectID.String() + "/documents"

	t.Run("created", func(t *testing.T) {
		env := newTestEnv(t, 1024)
		userID := uuid.New()
		req := multipartRequest(t, url, "invoice.txt", []byte("Invoice total: 42 EUR"))
		req.Header.Set("X-User-ID", userID.String())

		w := env.do(req)

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		resp := decode[dto.UploadResponse](t, w)
		assert.NotEmpty(t, resp.JobID)
		assert.Equal(t, 1, resp.Version.VersionNumber)
		assert.Equal(t, domain.ContentHash([]byte("Invoice total: 42 EUR")), resp.Version.ContentHash)

		require.Len(t, env.docs.uploads, 1)
		in := env.docs.uploads[0]
		assert.Equal(t, projectID, in.ProjectID)
		assert.Equal(t, userID, in.CreatedBy)
		assert.Equal(t, "invoice.txt", in.FileName)
		assert.Equal(t, "Invoice total: 42 EUR", string(in.Content))
	})

	t.Run("anonymous upload uses nil user", func(t *testing.T) {
		env := newTestEnv(t, 1024)

		w := env.do(multipartRequest(t, url, "a.txt", []byte("a")))

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, uuid.Nil, env.docs.uploads[0].CreatedBy)
	})

	tests := []struct {
		name       string
		url        string
		req        func(t *testing.T, url string) *http.Request
		serviceErr error
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid project id",
			url:        "/api/v1/projects/not-a-uuid/documents",
			req:        func(t *testing.T, url string) *http.Request { return multipartRequest(t, url, "a.txt", []byte("a")) },
			wantStatus: http.StatusBadRequest,
			wantError:  "project_id must be a valid UUID",
		},
		{
			name: "missing file field",
			url:  url,
			req: func(t *testing.T, url string) *http.Request {
				return httptest.NewRequest(http.MethodPost, url, strings.NewReader("{}"))
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "\\\"file\\\" is required",
		},
		{
			name: "invalid user header",
			url:  url,
			req: func(t *testing.T, url string) *http.Request {
				req := multipartRequest(t, url, "a.txt", []byte("a"))
				req.Header.Set("X-User-ID", "bob")
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "X-User-ID must be a valid UUID",
		},
		{
			name:       "file over limit",
			url:        url,
			req:        func(t *testing.T, url string) *http.Request { return multipartRequest(t, url, "big.txt", bytes.Repeat([]byte("x"), 2048)) },
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "upload limit",
		},
		{
			name:       "validation error from service",
			url:        url,
			req:        func(t *testing.T, url string) *http.Request { return multipartRequest(t, url, "bin.txt", []byte{0xff}) },
			serviceErr: fmt.Errorf("%w: file must be valid UTF-8 text", domain.ErrValidation),
			wantStatus: http.StatusBadRequest,
			wantError:  "valid UTF-8",
		},
		{
			name:       "internal error is not leaked",
			url:        url,
			req:        func(t *testing.T, url string) *http.Request { return multipartRequest(t, url, "a.txt", []byte("a")) },
			serviceErr: errors.New("pq: connection reset"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to upload document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 1024)
			env.docs.err = tt.serviceErr

			w := env.do(tt.req(t, tt.url))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantError)
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}
}

func TestAddVersion(t *testing.T) {
	env := newTestEnv(t, 1024)
	projectID, documentID := uuid.New(), uuid.New()
	url := fmt.Sprintf("/api/v1/projects/%s/documents/%s/versions", projectID, documentID)

	w := env.do(multipartRequest(t, url, "invoice.txt", []byte("v2")))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, env.docs.versions, 1)
	assert.Equal(t, documentID, env.docs.versions[0].DocumentID)
	assert.Equal(t, projectID, env.docs.versions[0].ProjectID)
	assert.Equal(t, 2, decode[dto.UploadResponse](t, w).Version.VersionNumber)

	env.docs.err = fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
	w = env.do(multipartRequest(t, url, "invoice.txt", []byte("v3")))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentReads(t *testing.T) {
	env := newTestEnv(t, 0)
	projectID := uuid.New()
	doc := &domain.Document{ID: uuid.New(), ProjectID: projectID, Title: "invoice.txt", CreatedAt: time.Now()}
	other := &domain.Document{ID: uuid.New(), ProjectID: uuid.New(), Title: "secret.txt", CreatedAt: time.Now()}
	env.store.docs[doc.ID] = doc
	env.store.docs[other.ID] = other
	env.store.versions[doc.ID] = []domain.DocumentVersion{
		{ID: uuid.New(), DocumentID: doc.ID, VersionNumber: 1, ContentHash: "h1"},
		{ID: uuid.New(), DocumentID: doc.ID, VersionNumber: 2, ContentHash: "h2"},
	}
	base := "/api/v1/projects/" + projectID.String() + "/documents"

	w := env.do(httptest.NewRequest(http.MethodGet, base, nil))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListDocumentsResponse](t, w)
	require.Len(t, list.Documents, 1)
	assert.Equal(t, doc.ID.String(), list.Documents[0].DocumentID)

	w = env.do(httptest.NewRequest(http.MethodGet, base+"/"+doc.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invoice.txt", decode[dto.DocumentDTO](t, w).Title)

	w = env.do(httptest.NewRequest(http.MethodGet, base+"/"+doc.ID.String()+"/versions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	versions := decode[dto.ListVersionsResponse](t, w)
	require.Len(t, versions.Versions, 2)
	assert.Equal(t, 2, versions.Versions[1].VersionNumber)
	assert.NotContains(t, w.Body.String(), "file_path")

	t.Run("document of another project is not found", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, base+"/"+other.ID.String(), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = env.do(httptest.NewRequest(http.MethodGet, base+"/"+other.ID.String()+"/versions", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown document", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, base+"/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCreateRun(t *testing.T) {
	projectID := uuid.New()
	url := "/api/v1/projects/" + projectID.String() + "/ai/runs"

	t.Run("created", func(t *testing.T) {
		env := newTestEnv(t, 0)
		docID := uuid.New()
		body := fmt.Sprintf(`{"document_ids":[%q],"parameters":{"question":"What is the total?"}}`, docID)

		req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := env.do(req)

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		run := decode[dto.RunDTO](t, w)
		assert.Equal(t, string(domain.RunStatusCreated), run.Status)
		require.NotNil(t, run.JobID)

		require.Len(t, env.runs.inputs, 1)
		in := env.runs.inputs[0]
		assert.Equal(t, projectID, in.ProjectID)
		assert.Equal(t, []uuid.UUID{docID}, in.DocumentIDs)
		assert.Equal(t, "What is the total?", in.Parameters["question"])
	})

	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
	}{
		{name: "malformed json", body: `{"document_ids":`, wantStatus: http.StatusBadRequest},
		{name: "malformed document id", body: `{"document_ids":["nope"]}`, wantStatus: http.StatusBadRequest},
		{
			name:       "document outside project",
			body:       `{"document_ids":[]}`,
			serviceErr: fmt.Errorf("%w: document not found or does not belong to project", domain.ErrValidation),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store failure",
			body:       `{"document_ids":[]}`,
			serviceErr: errors.New("tx aborted"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			env.runs.err = tt.serviceErr

			req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := env.do(req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRunReads(t *testing.T) {
	env := newTestEnv(t, 0)
	projectID := uuid.New()
	output := json.RawMessage(`{"answer":"42 EUR","model":"gpt-4o-mini","usage":{"prompt_tokens":10,"completion_tokens":2}}`)
	run := &domain.AIRun{
		ID: uuid.New(), ProjectID: projectID, RunType: domain.RunTypeDocumentQA,
		Status: domain.RunStatusSuccess, InputPayload: json.RawMessage(`{}`), OutputPayload: &output,
		CreatedAt: time.Now(),
	}
	foreign := &domain.AIRun{ID: uuid.New(), ProjectID: uuid.New(), InputPayload: json.RawMessage(`{}`)}
	env.store.runs[run.ID] = run
	env.store.runs[foreign.ID] = foreign
	base := "/api/v1/projects/" + projectID.String() + "/ai/runs"

	w := env.do(httptest.NewRequest(http.MethodGet, base+"/"+run.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[dto.RunDTO](t, w)
	assert.Equal(t, string(domain.RunStatusSuccess), got.Status)
	require.NotNil(t, got.Output)
	assert.JSONEq(t, string(output), string(*got.Output))

	w = env.do(httptest.NewRequest(http.MethodGet, base, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[dto.ListRunsResponse](t, w).Runs, 1)

	w = env.do(httptest.NewRequest(http.MethodGet, base+"/"+foreign.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, base+"/bad-id", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs_Pagination(t *testing.T) {
	env := newTestEnv(t, 0)
	projectID := uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		job := &domain.Job{
			ID: uuid.New(), ProjectID: projectID, Type: domain.JobTypeDocumentIngest,
			Status: domain.JobStatusPending, MaxAttempts: 3,
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		}
		env.store.jobs[job.ID] = job
		ids = append(ids, job.ID)
	}
	foreign := &domain.Job{ID: uuid.New(), ProjectID: uuid.New(), CreatedAt: start}
	env.store.jobs[foreign.ID] = foreign
	base := "/api/v1/projects/" + projectID.String() + "/jobs"

	w := env.do(httptest.NewRequest(http.MethodGet, base+"?page_size=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	page1 := decode[dto.ListJobsResponse](t, w)
	require.Len(t, page1.Jobs, 2)
	assert.Equal(t, ids[2].String(), page1.Jobs[0].JobID)
	assert.Equal(t, ids[1].String(), page1.Jobs[1].JobID)
	require.NotEmpty(t, page1.NextCursor)

	w = env.do(httptest.NewRequest(http.MethodGet, base+"?page_size=2&cursor="+url.QueryEscape(page1.NextCursor), nil))
	require.Equal(t, http.StatusOK, w.Code)
	page2 := decode[dto.ListJobsResponse](t, w)
	require.Len(t, page2.Jobs, 1)
	assert.Equal(t, ids[0].String(), page2.Jobs[0].JobID)
	assert.Empty(t, page2.NextCursor)

	for _, q := range []string{"?cursor=!!!", "?status=DONE", "?job_type=EMAIL"} {
		w = env.do(httptest.NewRequest(http.MethodGet, base+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestJobStatus(t *testing.T) {
	env := newTestEnv(t, 0)
	job := &domain.Job{ID: uuid.New(), ProjectID: uuid.New(), Status: domain.JobStatusRunning, CreatedAt: time.Now()}
	env.store.jobs[job.ID] = job
	url := "/api/v1/jobs/" + job.ID.String()

	t.Run("database fallback", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, url+"/status", nil))
		require.Equal(t, http.StatusOK, w.Code)
		got := decode[dto.JobStatusDTO](t, w)
		assert.Equal(t, "RUNNING", got.Status)
		assert.Equal(t, "database", got.Source)
	})

	t.Run("cache hit", func(t *testing.T) {
		env.cache.statuses[job.ID] = "SUCCESS"
		defer delete(env.cache.statuses, job.ID)

		w := env.do(httptest.NewRequest(http.MethodGet, url+"/status", nil))
		require.Equal(t, http.StatusOK, w.Code)
		got := decode[dto.JobStatusDTO](t, w)
		assert.Equal(t, "SUCCESS", got.Status)
		assert.Equal(t, "cache", got.Source)
	})

	t.Run("cache failure falls back", func(t *testing.T) {
		env.cache.err = errors.New("redis down")
		defer func() { env.cache.err = nil }()

		w := env.do(httptest.NewRequest(http.MethodGet, url+"/status", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "database", decode[dto.JobStatusDTO](t, w).Source)
	})

	t.Run("job detail", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, url, nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, job.ID.String(), decode[dto.JobDTO](t, w).JobID)
	})

	t.Run("unknown job", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString()+"/status", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
