// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/llmstxt-crawler/internal/api"
	"github.com/JakeFAU/llmstxt-crawler/internal/artifact"
	"github.com/JakeFAU/llmstxt-crawler/internal/clock/system"
	"github.com/JakeFAU/llmstxt-crawler/internal/config"
	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/llmstxt-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/llmstxt-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/llmstxt-crawler/internal/hash/sha256"
	"github.com/JakeFAU/llmstxt-crawler/internal/headless/detector"
	"github.com/JakeFAU/llmstxt-crawler/internal/id/uuid"
	"github.com/JakeFAU/llmstxt-crawler/internal/logging"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
	"github.com/JakeFAU/llmstxt-crawler/internal/orchestrator"
	"github.com/JakeFAU/llmstxt-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/llmstxt-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/llmstxt-crawler/internal/queue/memory"
	queueRedis "github.com/JakeFAU/llmstxt-crawler/internal/queue/redis"
	"github.com/JakeFAU/llmstxt-crawler/internal/recrawl"
	"github.com/JakeFAU/llmstxt-crawler/internal/render"
	"github.com/JakeFAU/llmstxt-crawler/internal/sitemap"
	gcsstorage "github.com/JakeFAU/llmstxt-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/llmstxt-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/llmstxt-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/llmstxt-crawler/internal/storage/postgres"
	"github.com/JakeFAU/llmstxt-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	sweeper   *recrawl.Sweeper

	queue   queue
	closers []namedCloser
	checks  []readiness
}

type queue interface {
	crawler.Queue
	Close() error
}

type namedCloser struct {
	name  string
	close func() error
}

type readiness struct {
	name  string
	check api.ReadinessCheck
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("queue", cfg.Queue.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	built := false
	defer func() {
		if !built {
			app.closeInfrastructure()
		}
	}()

	jobStore, siteStore, err := app.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.setupQueue(ctx); err != nil {
		return nil, err
	}

	artifacts, err := artifact.New(render.LLMSTxt{}, sha256.New(), blobStore, notifier, artifact.Config{
		Prefix: cfg.Storage.Prefix,
		Topic:  cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact publisher init failed: %w", err)
	}

	orch, discoverer, err := app.setupOrchestrator()
	if err != nil {
		return nil, err
	}

	clock := system.New()
	runners := make([]dispatcher.Runner, 0, cfg.Crawler.Workers+1)
	for i := range cfg.Crawler.Workers {
		runners = append(runners, worker.New(
			app.queue,
			jobStore,
			siteStore,
			orch,
			artifacts,
			clock,
			worker.Config{
				DefaultPageBudget:        cfg.Crawler.MaxPagesDefault,
				DefaultDescriptionLength: cfg.Crawler.DescLengthDefault,
			},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}

	app.sweeper = recrawl.New(
		siteStore,
		sitemap.NewChangeDetector(discoverer),
		orch,
		artifacts,
		clock,
		recrawl.Config{
			Mode:        cfg.ScheduleMode(),
			Concurrency: cfg.Recrawl.Concurrency,
			Interval:    app.recrawlInterval(),
		},
		logger.Named("recrawl"),
	)
	if cfg.Recrawl.Enabled {
		runners = append(runners, app.sweeper)
		logger.Info("recrawl sweep enabled",
			zap.Duration("interval", cfg.RecrawlInterval()),
			zap.String("mode", string(cfg.ScheduleMode())),
		)
	}
	app.dispatch = dispatcher.New(app.queue, clock, runners...)

	opts := []api.Option{api.WithSweeper(app.sweeper)}
	for _, r := range app.checks {
		opts = append(opts, api.WithReadinessCheck(r.name, r.check))
	}
	app.apiServer = api.NewServer(
		jobStore,
		app.dispatch,
		uuid.New(),
		clock,
		*cfg,
		logger.Named("api"),
		opts...,
	)

	built = true
	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	return a.Close()
}

// Close releases infrastructure clients.
func (a *App) Close() error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) setupDatabase(ctx context.Context) (crawler.JobStore, crawler.SiteStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured; jobs and sites are kept in memory")
		return memoryStorage.NewJobStore(), memoryStorage.NewSiteStore(), nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		SitesTable:      a.cfg.DB.SitesTable,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.onClose("postgres", func() error { pool.Close(); return nil })
	a.checks = append(a.checks, readiness{name: "postgres", check: pool.Ping})

	if a.cfg.DB.Migrate {
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
	}
	jobStore, err := pgstore.NewJobStore(pool)
	if err != nil {
		return nil, nil, fmt.Errorf("job store init failed: %w", err)
	}
	siteStore, err := pgstore.NewSiteStore(pool, a.cfg.DB.SitesTable)
	if err != nil {
		return nil, nil, fmt.Errorf("site store init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized", zap.String("sites_table", a.cfg.DB.SitesTable))
	return jobStore, siteStore, nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:        a.cfg.Storage.GCSBucket,
			PublicBaseURL: a.cfg.Storage.PublicBaseURL,
			CacheControl:  a.cfg.Storage.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs", store.Close)
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{
			BaseDir:       a.cfg.Storage.LocalDir,
			PublicBaseURL: a.cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub project configured; update notifications are disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	publisher := gcppublisher.New(client, a.cfg.PubSub.TopicName)
	a.onClose("pubsub", func() error {
		publisher.Close()
		return client.Close()
	})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func (a *App) setupQueue(ctx context.Context) error {
	if a.cfg.Queue.Backend == config.BackendRedis {
		q, err := queueRedis.Open(ctx, queueRedis.Config{
			Addr:        a.cfg.Redis.Addr,
			Password:    a.cfg.Redis.Password,
			DB:          a.cfg.Redis.DB,
			Key:         a.cfg.Redis.Key,
			PollTimeout: time.Duration(a.cfg.Redis.PollTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("redis queue init failed: %w", err)
		}
		a.queue = q
		a.onClose("redis", q.Close)
		a.checks = append(a.checks, readiness{name: "redis", check: q.Ping})
		a.logger.Info("using redis job queue", zap.String("addr", a.cfg.Redis.Addr))
		return nil
	}
	q := queueMemory.NewQueue(a.cfg.Queue.Depth)
	a.queue = q
	a.onClose("queue", q.Close)
	a.logger.Info("using in-memory job queue", zap.Int("depth", a.cfg.Queue.Depth))
	return nil
}

func (a *App) setupOrchestrator() (*orchestrator.Orchestrator, *sitemap.Discoverer, error) {
	cfg := a.cfg
	direct := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
		MaxBodySize:   cfg.HTTP.MaxBodyBytes,
	})
	discoverer := sitemap.NewDiscoverer(direct, sitemap.Config{
		Candidates:   cfg.Sitemap.Candidates,
		MaxDepth:     cfg.Sitemap.MaxDepth,
		MaxDocuments: cfg.Sitemap.MaxDocuments,
	}, a.logger.Named("sitemap"))

	factory, err := headlessfetcher.NewFactory(headlessfetcher.Config{
		Enabled:           cfg.Escalation.Enabled,
		Host:              cfg.Escalation.Host,
		Credentials:       cfg.Escalation.Credentials(),
		UserAgent:         cfg.Crawler.UserAgent,
		MaxParallel:       cfg.Escalation.MaxParallel,
		NavigationTimeout: time.Duration(cfg.Escalation.NavTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Escalation.IdleTimeoutSeconds) * time.Second,
		SettleDelay:       time.Duration(cfg.Escalation.SettleDelayMs) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("tier-2 factory init failed: %w", err)
	}

	deps := orchestrator.Deps{
		Direct:   direct,
		Checker:  detector.NewHeuristic(cfg.Crawler.MinBodyLength, cfg.Crawler.MinTextLength),
		Sitemaps: discoverer,
		Tier2: func(creds *crawler.EscalationCredentials) (orchestrator.Tier2, error) {
			f, err := factory.ForCrawl(creds)
			if err != nil || f == nil {
				return nil, err
			}
			return f, nil
		},
		Ceiling: ratelimit.NewWindow("tier2", cfg.RateLimit.CallsPerWindow, cfg.RateWindow()),
	}
	if cfg.Crawler.PerHostRPS > 0 {
		deps.Politeness = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.PerHostRPS,
			DefaultBurst: cfg.Crawler.PerHostBurst,
		})
	}
	a.logger.Info("crawl orchestrator configured",
		zap.Bool("escalation_enabled", cfg.Escalation.Enabled),
		zap.Int("tier2_calls_per_window", cfg.RateLimit.CallsPerWindow),
		zap.Duration("tier2_window", cfg.RateWindow()),
		zap.Float64("per_host_rps", cfg.Crawler.PerHostRPS),
	)
	return orchestrator.New(deps, orchestrator.Config{
		AttemptMultiplier: cfg.Crawler.AttemptMultiplier,
		CostPerRequest:    cfg.Escalation.CostPerRequest,
	}, a.logger.Named("orchestrator")), discoverer, nil
}

func (a *App) recrawlInterval() time.Duration {
	if !a.cfg.Recrawl.Enabled {
		return 0
	}
	return a.cfg.RecrawlInterval()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
}
