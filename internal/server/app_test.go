package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/llmstxt-crawler/internal/config"
)

func loadConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	return cfg
}

func serve(app *App, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBuildInMemory(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Recrawl.Enabled = true

	app, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/readyz", "").Code)

	rec := serve(app, http.MethodPost, "/v1/crawls", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"job_id"`)

	item, err := app.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://example.com", item.Params.URL)
}

func TestBuildRedisQueueReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t)
	cfg.Queue.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	app, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/readyz", "").Code)

	mr.Close()
	rec := serve(app, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "redis")
}

func TestBuildFailsOnUnreachableDatabase(t *testing.T) {
	cfg := loadConfig(t)
	cfg.DB.DSN = "postgres://crawler@127.0.0.1:1/llmstxt?connect_timeout=1&sslmode=disable"

	_, err := Build(context.Background(), &cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "postgres init failed")
}
