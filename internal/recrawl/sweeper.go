// Package recrawl periodically revisits published sites, re-crawling those
// whose sitemaps report changes and rescheduling every site it checks.
package recrawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/llmstxt-crawler/internal/artifact"
	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
	"github.com/JakeFAU/llmstxt-crawler/internal/orchestrator"
	"github.com/JakeFAU/llmstxt-crawler/internal/schedule"
)

// DefaultConcurrency bounds how many sites one sweep crawls at once.
const DefaultConcurrency = 4

// ErrSweepInProgress is returned when a sweep is requested while another runs.
var ErrSweepInProgress = errors.New("recrawl sweep already in progress")

// Outcome labels for a single site check.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// ChangeDetector is the cheap sitemap check consulted before crawling.
type ChangeDetector interface {
	HasChanged(ctx context.Context, sentinelURL string, lastKnown *time.Time) (bool, *time.Time)
}

// Crawler runs one site crawl.
type Crawler interface {
	Crawl(ctx context.Context, target crawler.CrawlTarget, progress crawler.ProgressFunc) orchestrator.Report
}

// Config controls sweep behavior.
type Config struct {
	Mode        schedule.Mode
	Concurrency int
	// Interval between sweeps in Run. Zero disables the loop.
	Interval time.Duration
}

// Summary counts what one sweep did.
type Summary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

func (s *Summary) add(outcome string) {
	switch outcome {
	case OutcomeUpdated:
		s.Processed++
		s.Updated++
	case OutcomeUnchanged:
		s.Processed++
		s.Unchanged++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
}

// Sweeper checks due sites.
type Sweeper struct {
	sites     crawler.SiteStore
	detector  ChangeDetector
	crawler   Crawler
	artifacts *artifact.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	running sync.Mutex
}

// New builds a Sweeper.
func New(
	sites crawler.SiteStore,
	detector ChangeDetector,
	crawl Crawler,
	artifacts *artifact.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Mode == "" {
		cfg.Mode = schedule.ModeFixed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		sites:     sites,
		detector:  detector,
		crawler:   crawl,
		artifacts: artifacts,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run sweeps every cfg.Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("recrawl sweep failed", zap.Error(err))
				}
				continue
			}
			s.logger.Info("recrawl sweep finished",
				zap.Int("total", summary.Total),
				zap.Int("updated", summary.Updated),
				zap.Int("unchanged", summary.Unchanged),
				zap.Int("skipped", summary.Skipped),
				zap.Int("errors", summary.Errors),
			)
		}
	}
}

// Sweep checks every site that is due now. Per-site failures are counted in
// the summary; only listing due sites can fail the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Summary, error) {
	if !s.running.TryLock() {
		return Summary{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	due, err := s.sites.DueSites(ctx, s.clock.Now())
	if err != nil {
		return Summary{}, fmt.Errorf("list due sites: %w", err)
	}

	summary := Summary{Total: len(due)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, site := range due {
		g.Go(func() error {
			outcome := s.check(gctx, site)
			metrics.ObserveRecrawl(outcome)
			mu.Lock()
			summary.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

func (s *Sweeper) check(ctx context.Context, site crawler.Site) string {
	logger := s.logger.With(zap.Int64("site_id", site.ID), zap.String("site", site.BaseURL))

	changed, newest := s.detector.HasChanged(ctx, site.Sentinel(), site.SitemapLastModified)
	if !changed {
		if err := s.reschedule(ctx, site, decision{newest: newest}); err != nil {
			logger.Error("reschedule failed", zap.Error(err))
			return OutcomeError
		}
		logger.Debug("sitemap unchanged; skipping crawl")
		return OutcomeSkipped
	}

	report := s.crawler.Crawl(ctx, crawler.CrawlTarget{
		BaseURL:           site.BaseURL,
		PageBudget:        site.PageBudget,
		DescriptionLength: site.DescriptionLength,
	}, nil)
	if report.Cancelled {
		logger.Warn("recrawl cancelled")
		return OutcomeError
	}
	if len(report.Pages) == 0 {
		logger.Warn("recrawl found no pages; keeping published document", zap.Int("attempts", report.Attempts))
		if err := s.reschedule(ctx, site, decision{crawled: true}); err != nil {
			logger.Error("reschedule failed", zap.Error(err))
		}
		return OutcomeError
	}

	doc, err := s.artifacts.Build(site.BaseURL, report.Pages)
	if err != nil {
		logger.Error("render failed", zap.Error(err))
		return OutcomeError
	}
	if doc.Hash == site.LatestContentHash {
		if err := s.reschedule(ctx, site, decision{crawled: true, newest: newest}); err != nil {
			logger.Error("reschedule failed", zap.Error(err))
			return OutcomeError
		}
		return OutcomeUnchanged
	}

	publishedURL, err := s.artifacts.Store(ctx, doc)
	if err != nil {
		logger.Error("publish failed", zap.Error(err))
		// Hash and sitemap timestamp stay put so the next sweep retries.
		if err := s.reschedule(ctx, site, decision{crawled: true}); err != nil {
			logger.Error("reschedule failed", zap.Error(err))
		}
		return OutcomeError
	}
	if err := s.artifacts.Notify(ctx, artifact.Event{
		BaseURL:      site.BaseURL,
		PublishedURL: publishedURL,
		ContentHash:  doc.Hash,
		Pages:        len(report.Pages),
		Reason:       artifact.ReasonRecrawl,
		Timestamp:    s.clock.Now(),
	}); err != nil {
		logger.Warn("notification failed", zap.Error(err))
	}
	if err := s.reschedule(ctx, site, decision{
		crawled:      true,
		changed:      true,
		newest:       newest,
		hash:         doc.Hash,
		publishedURL: publishedURL,
	}); err != nil {
		logger.Error("reschedule failed", zap.Error(err))
		return OutcomeError
	}
	logger.Info("published updated document", zap.String("hash", doc.Hash), zap.Int("pages", len(report.Pages)))
	return OutcomeUpdated
}

// decision is what one check learned about a site.
type decision struct {
	crawled      bool
	changed      bool
	newest       *time.Time
	hash         string
	publishedURL string
}

func (s *Sweeper) reschedule(ctx context.Context, site crawler.Site, d decision) error {
	now := s.clock.Now()
	next := schedule.ComputeNextCrawl(s.cfg.Mode, schedule.Input{
		BaselineMinutes:          site.RecrawlIntervalMinutes,
		AvgChangeIntervalMinutes: site.AvgChangeIntervalMinutes,
		LastChangedAt:            site.LastChangedAt,
		Changed:                  d.changed,
		Now:                      now,
	})
	update := crawler.ScheduleUpdate{
		SiteID:                   site.ID,
		NextCrawlAt:              next.NextCrawlAt,
		SitemapLastModified:      d.newest,
		AvgChangeIntervalMinutes: next.AvgChangeIntervalMinutes,
		LastChangedAt:            next.LastChangedAt,
		ContentHash:              d.hash,
		PublishedURL:             d.publishedURL,
	}
	if d.crawled {
		update.CrawledAt = &now
	}
	// A cancelled sweep still records decisions already made.
	if err := s.sites.UpdateSchedule(context.WithoutCancel(ctx), update); err != nil {
		return fmt.Errorf("update schedule for site %d: %w", site.ID, err)
	}
	return nil
}
