package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/llmstxt-crawler/internal/config"
	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/dispatcher"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
	queueMemory "github.com/JakeFAU/llmstxt-crawler/internal/queue/memory"
	"github.com/JakeFAU/llmstxt-crawler/internal/recrawl"
	"github.com/JakeFAU/llmstxt-crawler/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeIDGen struct {
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeSweeper struct {
	summary recrawl.Summary
	err     error
}

func (f fakeSweeper) Sweep(context.Context) (recrawl.Summary, error) {
	return f.summary, f.err
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return errors.New("queue full")
}

func (failingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	<-ctx.Done()
	return crawler.QueueItem{}, ctx.Err()
}

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{RequestTimeoutSeconds: 5},
		Crawler: config.CrawlerConfig{MaxPagesDefault: 50, DescLengthDefault: 500},
	}
}

type testEnv struct {
	jobs   *memory.JobStore
	queue  *queueMemory.Queue
	server *Server
}

func newTestEnv(cfg config.Config, opts ...Option) *testEnv {
	jobs := memory.NewJobStore()
	q := queueMemory.NewQueue(10)
	dispatch := dispatcher.New(q, fakeClock{now: time.Unix(100, 0)})
	srv := NewServer(jobs, dispatch, &fakeIDGen{ids: []string{"job-1", "job-2"}}, fakeClock{now: time.Unix(100, 0)}, cfg, zap.NewNop(), opts...)
	return &testEnv{jobs: jobs, queue: q, server: srv}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitCrawl_AppliesDefaultsAndEnqueues(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	rec := env.do(http.MethodPost, "/v1/crawls", `{"url":"https://example.com","recrawl_interval_minutes":1440}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"job_id":"job-1","status":"queued"}`, rec.Body.String())

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)
	require.Equal(t, crawler.JobParameters{
		URL:                    "https://example.com",
		MaxPages:               50,
		DescriptionLength:      500,
		RecrawlIntervalMinutes: 1440,
	}, item.Params)
	require.Equal(t, int64(100), item.Submitted)

	job, err := env.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusQueued, job.Status)
}

func TestSubmitCrawl_EscalationCredentialsAreRedacted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	rec := env.do(http.MethodPost, "/v1/crawls",
		`{"url":"https://example.com","max_pages":5,"escalation":{"customer_id":"c1","zone":"z1","password":"hunter2"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hunter2", item.Params.Escalation.Password)

	rec = env.do(http.MethodGet, "/v1/crawls/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "hunter2")
	require.Contains(t, rec.Body.String(), `"customer_id":"c1"`)
}

func TestSubmitCrawl_Validation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"invalid json":     `{invalid`,
		"missing url":      `{}`,
		"relative url":     `{"url":"/docs"}`,
		"ftp url":          `{"url":"ftp://example.com"}`,
		"zero pages":       `{"url":"https://example.com","max_pages":0}`,
		"too many pages":   `{"url":"https://example.com","max_pages":100000}`,
		"zero desc length": `{"url":"https://example.com","desc_length":0}`,
		"negative recrawl": `{"url":"https://example.com","recrawl_interval_minutes":-5}`,
		"bad sentinel":     `{"url":"https://example.com","sentinel_url":"sitemap.xml"}`,
		"partial creds":    `{"url":"https://example.com","escalation":{"customer_id":"c1"}}`,
	}
	for name, body := range cases {
		env := newTestEnv(testConfig())
		rec := env.do(http.MethodPost, "/v1/crawls", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		require.Zero(t, env.queue.Len(), name)
	}
}

func TestSubmitCrawl_EnqueueFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	srv := NewServer(jobs, dispatcher.New(failingQueue{}, nil), &fakeIDGen{ids: []string{"job-x"}},
		fakeClock{now: time.Unix(100, 0)}, testConfig(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	job, err := jobs.GetJob(context.Background(), "job-x")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
}

func TestGetCrawl_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/crawls/missing", "").Code)
	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/crawls/missing/result", "").Code)
}

func TestGetCrawlResult_ReturnsPagesAndDocument(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, crawler.Job{ID: "done", Status: crawler.JobStatusQueued}))
	require.NoError(t, env.jobs.AppendLog(ctx, "done", "Checking sitemap for https://example.com"))
	require.NoError(t, env.jobs.RecordPages(ctx, "done", []crawler.PageRecord{{URL: "https://example.com", Title: "Home"}}))
	require.NoError(t, env.jobs.SaveOutput(ctx, "done", crawler.JobOutput{Document: "# Home", PublishedURL: "memory://llms/x.txt"}))
	require.NoError(t, env.jobs.UpdateJobStatus(ctx, "done", crawler.JobStatusSucceeded, "", crawler.JobCounters{PagesSucceeded: 1}))

	rec := env.do(http.MethodGet, "/v1/crawls/done/result", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result crawler.JobResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "# Home", result.Document)
	require.Len(t, result.Pages, 1)
	require.Equal(t, crawler.JobStatusSucceeded, result.Job.Status)
	require.Equal(t, "memory://llms/x.txt", result.Job.PublishedURL)

	rec = env.do(http.MethodGet, "/v1/crawls/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Checking sitemap for https://example.com")
}

func TestGetCrawlResult_WithoutOutput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	require.NoError(t, env.jobs.CreateJob(context.Background(), crawler.Job{ID: "running", Status: crawler.JobStatusRunning}))

	rec := env.do(http.MethodGet, "/v1/crawls/running/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), `"document"`)
}

func TestRecrawl(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	require.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/v1/recrawl", "").Code)

	env = newTestEnv(testConfig(), WithSweeper(fakeSweeper{summary: recrawl.Summary{Total: 3, Processed: 2, Updated: 1, Unchanged: 1, Skipped: 1}}))
	rec := env.do(http.MethodPost, "/v1/recrawl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"total":3,"processed":2,"updated":1,"unchanged":1,"skipped":1,"errors":0}`, rec.Body.String())

	env = newTestEnv(testConfig(), WithSweeper(fakeSweeper{err: recrawl.ErrSweepInProgress}))
	require.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/recrawl", "").Code)

	env = newTestEnv(testConfig(), WithSweeper(fakeSweeper{err: errors.New("db down")}))
	require.Equal(t, http.StatusInternalServerError, env.do(http.MethodPost, "/v1/recrawl", "").Code)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	env = newTestEnv(testConfig(), WithReadinessCheck("postgres", func(context.Context) error {
		return errors.New("connection refused")
	}))
	rec := env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	env.do(http.MethodGet, "/healthz", "")
	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	env := newTestEnv(cfg)

	require.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/v1/crawls", `{"url":"https://example.com"}`).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(`{"url":"https://example.com"}`))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = env.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
