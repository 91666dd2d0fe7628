package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/llmstxt-crawler/internal/config"
	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
	"github.com/JakeFAU/llmstxt-crawler/internal/recrawl"
)

// Request limits for submitted crawls.
const (
	MaxPagesLimit        = 1000
	MaxDescriptionLength = 5000
	enqueueTimeout       = 5 * time.Second
	readinessTimeout     = 2 * time.Second
	maxRequestBodyBytes  = 1 << 20
)

// Enqueuer accepts crawl jobs for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Sweeper runs one recrawl pass.
type Sweeper interface {
	Sweep(ctx context.Context) (recrawl.Summary, error)
}

// ReadinessCheck reports whether a downstream dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	jobStore crawler.JobStore
	enqueuer Enqueuer
	sweeper  Sweeper
	checks   map[string]ReadinessCheck
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithSweeper enables POST /v1/recrawl.
func WithSweeper(s Sweeper) Option {
	return func(srv *Server) { srv.sweeper = s }
}

// WithReadinessCheck adds a named dependency check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(srv *Server) { srv.checks[name] = check }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	enqueuer Enqueuer,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore: jobStore,
		enqueuer: enqueuer,
		checks:   map[string]ReadinessCheck{},
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// A sweep crawls many sites and is bounded by the caller instead.
		r.Post("/recrawl", s.runRecrawl)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout()))
			r.Route("/crawls", func(r chi.Router) {
				r.Post("/", s.submitCrawl)
				r.Route("/{job_id}", func(r chi.Router) {
					r.Get("/", s.getCrawl)
					r.Get("/result", s.getCrawlResult)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL                    string             `json:"url"`
	MaxPages               *int               `json:"max_pages"`
	DescriptionLength      *int               `json:"desc_length"`
	RecrawlIntervalMinutes int                `json:"recrawl_interval_minutes"`
	SentinelURL            string             `json:"sentinel_url"`
	Escalation             *escalationRequest `json:"escalation"`
}

type escalationRequest struct {
	CustomerID string `json:"customer_id"`
	Zone       string `json:"zone"`
	Password   string `json:"password"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("enqueue crawl failed", zap.String("url", params.URL), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(crawler.JobStatusQueued)})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getCrawlResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	pages, err := s.jobStore.ListPages(r.Context(), job.ID)
	if err != nil {
		s.logger.Error("list pages failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch job pages")
		return
	}
	result := crawler.JobResult{Job: job, Pages: pages}
	output, err := s.jobStore.GetOutput(r.Context(), job.ID)
	switch {
	case err == nil:
		result.Document = output.Document
	case !errors.Is(err, crawler.ErrNotFound):
		s.logger.Error("get output failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch job output")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) runRecrawl(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "recrawl is not configured")
		return
	}
	summary, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, recrawl.ErrSweepInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("recrawl sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "recrawl sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (crawler.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch job")
		}
		return crawler.Job{}, false
	}
	job.Parameters = job.Parameters.Redacted()
	return job, true
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		if updateErr := s.jobStore.UpdateJobStatus(
			context.WithoutCancel(ctx), jobID, crawler.JobStatusFailed, "enqueue failed", crawler.JobCounters{},
		); updateErr != nil {
			s.logger.Warn("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(updateErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toJobParameters(req crawlRequest) (crawler.JobParameters, error) {
	base, err := validateURL(req.URL)
	if err != nil {
		return crawler.JobParameters{}, fmt.Errorf("url: %w", err)
	}
	params := crawler.JobParameters{
		URL:                    base,
		MaxPages:               valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPagesDefault),
		DescriptionLength:      valueOrDefault(req.DescriptionLength, s.cfg.Crawler.DescLengthDefault),
		RecrawlIntervalMinutes: req.RecrawlIntervalMinutes,
	}
	if params.MaxPages < 1 || params.MaxPages > MaxPagesLimit {
		return crawler.JobParameters{}, fmt.Errorf("max_pages must be between 1 and %d", MaxPagesLimit)
	}
	if params.DescriptionLength < 1 || params.DescriptionLength > MaxDescriptionLength {
		return crawler.JobParameters{}, fmt.Errorf("desc_length must be between 1 and %d", MaxDescriptionLength)
	}
	if params.RecrawlIntervalMinutes < 0 {
		return crawler.JobParameters{}, errors.New("recrawl_interval_minutes must be >= 0")
	}
	if req.SentinelURL != "" {
		sentinel, err := validateURL(req.SentinelURL)
		if err != nil {
			return crawler.JobParameters{}, fmt.Errorf("sentinel_url: %w", err)
		}
		params.SentinelURL = sentinel
	}
	if req.Escalation != nil {
		creds := &crawler.EscalationCredentials{
			CustomerID: strings.TrimSpace(req.Escalation.CustomerID),
			Zone:       strings.TrimSpace(req.Escalation.Zone),
			Password:   req.Escalation.Password,
		}
		if !creds.Configured() {
			return crawler.JobParameters{}, errors.New("escalation requires customer_id and zone")
		}
		params.Escalation = creds
	}
	return params, nil
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.New("must be an absolute http(s) URL")
	}
	return raw, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
