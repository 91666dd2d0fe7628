// Package worker executes queued crawl jobs: crawl, render, publish, and
// register the site for recrawls.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/llmstxt-crawler/internal/artifact"
	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
	"github.com/JakeFAU/llmstxt-crawler/internal/orchestrator"
)

// Defaults applied to job parameters left at zero.
const (
	DefaultPageBudget        = 50
	DefaultDescriptionLength = 500
)

// Crawler runs one site crawl.
type Crawler interface {
	Crawl(ctx context.Context, target crawler.CrawlTarget, progress crawler.ProgressFunc) orchestrator.Report
}

// Config controls Worker behavior.
type Config struct {
	DefaultPageBudget        int
	DefaultDescriptionLength int
}

// Worker consumes queue items and executes the crawl pipeline.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	siteStore crawler.SiteStore
	crawler   Crawler
	artifacts *artifact.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. siteStore may be nil, in which case sites are
// never registered for recrawls.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	siteStore crawler.SiteStore,
	crawl Crawler,
	artifacts *artifact.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.DefaultPageBudget <= 0 {
		cfg.DefaultPageBudget = DefaultPageBudget
	}
	if cfg.DefaultDescriptionLength <= 0 {
		cfg.DefaultDescriptionLength = DefaultDescriptionLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		siteStore: siteStore,
		crawler:   crawl,
		artifacts: artifacts,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.Params.URL))
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	target := w.target(item.Params)
	report := w.crawler.Crawl(ctx, target, w.progress(ctx, item.JobID, logger))
	counters := crawler.JobCounters{
		PagesSucceeded: len(report.Pages),
		PagesFailed:    report.Attempts - len(report.Pages),
		Attempts:       report.Attempts,
		Escalations:    report.Escalations,
		Shortfall:      report.Shortfall,
	}

	status, errText := crawler.JobStatusSucceeded, ""
	if report.Cancelled {
		status, errText = crawler.JobStatusCanceled, "crawl cancelled"
	}
	// The job row is finalized even when the worker context is gone.
	finishCtx := context.WithoutCancel(ctx)
	if err := w.finish(finishCtx, item, target, report, logger); err != nil {
		logger.Error("publish crawl result failed", zap.Error(err))
		status, errText = crawler.JobStatusFailed, err.Error()
	}

	if err := w.jobStore.UpdateJobStatus(finishCtx, item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("pages", len(report.Pages)),
		zap.Int("attempts", report.Attempts),
		zap.Int("tier2_requests", report.Usage.Requests),
	)
}

// finish records pages, publishes the rendered document, and registers the
// site. Pages and the document are saved even when publishing fails.
func (w *Worker) finish(
	ctx context.Context,
	item crawler.QueueItem,
	target crawler.CrawlTarget,
	report orchestrator.Report,
	logger *zap.Logger,
) error {
	if err := w.jobStore.RecordPages(ctx, item.JobID, report.Pages); err != nil {
		return fmt.Errorf("record pages: %w", err)
	}
	doc, err := w.artifacts.Build(target.BaseURL, report.Pages)
	if err != nil {
		return err
	}
	output := crawler.JobOutput{Document: string(doc.Body), ContentHash: doc.Hash, Usage: report.Usage}

	if report.Cancelled {
		return w.save(ctx, item.JobID, output)
	}
	var errs []error
	publishedURL, err := w.artifacts.Store(ctx, doc)
	if err != nil {
		errs = append(errs, err)
	} else {
		output.PublishedURL = publishedURL
		w.appendLog(ctx, item.JobID, "Published llms.txt to "+publishedURL, logger)
		errs = append(errs, w.registerSite(ctx, item.Params, target, report, doc, publishedURL))
		if notifyErr := w.artifacts.Notify(ctx, artifact.Event{
			BaseURL:      target.BaseURL,
			JobID:        item.JobID,
			PublishedURL: publishedURL,
			ContentHash:  doc.Hash,
			Pages:        len(report.Pages),
			Reason:       artifact.ReasonCrawl,
			Timestamp:    w.clock.Now(),
		}); notifyErr != nil {
			logger.Warn("notification failed", zap.Error(notifyErr))
		}
	}
	errs = append(errs, w.save(ctx, item.JobID, output))
	return errors.Join(errs...)
}

func (w *Worker) save(ctx context.Context, jobID string, output crawler.JobOutput) error {
	if err := w.jobStore.SaveOutput(ctx, jobID, output); err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	return nil
}

// registerSite upserts the schedule row for jobs that asked for recrawls.
// The sentinel defaults to the sitemap that seeded the crawl.
func (w *Worker) registerSite(
	ctx context.Context,
	params crawler.JobParameters,
	target crawler.CrawlTarget,
	report orchestrator.Report,
	doc artifact.Document,
	publishedURL string,
) error {
	if w.siteStore == nil || params.RecrawlIntervalMinutes <= 0 {
		return nil
	}
	sentinel := params.SentinelURL
	if sentinel == "" {
		sentinel = report.SitemapSource
	}
	now := w.clock.Now()
	_, err := w.siteStore.UpsertSite(ctx, crawler.SiteUpsert{
		BaseURL:                target.BaseURL,
		PageBudget:             target.PageBudget,
		DescriptionLength:      target.DescriptionLength,
		RecrawlIntervalMinutes: params.RecrawlIntervalMinutes,
		SentinelURL:            sentinel,
		ContentHash:            doc.Hash,
		PublishedURL:           publishedURL,
		CrawledAt:              now,
		NextCrawlAt:            now.Add(time.Duration(params.RecrawlIntervalMinutes) * time.Minute),
	})
	if err != nil {
		return fmt.Errorf("register site: %w", err)
	}
	return nil
}

func (w *Worker) target(params crawler.JobParameters) crawler.CrawlTarget {
	target := crawler.CrawlTarget{
		BaseURL:           crawler.Normalize(params.URL),
		PageBudget:        params.MaxPages,
		DescriptionLength: params.DescriptionLength,
		Escalation:        params.Escalation,
	}
	if target.PageBudget <= 0 {
		target.PageBudget = w.cfg.DefaultPageBudget
	}
	if target.DescriptionLength <= 0 {
		target.DescriptionLength = w.cfg.DefaultDescriptionLength
	}
	return target
}

func (w *Worker) progress(ctx context.Context, jobID string, logger *zap.Logger) crawler.ProgressFunc {
	return func(line string) {
		w.appendLog(ctx, jobID, line, logger)
	}
}

func (w *Worker) appendLog(ctx context.Context, jobID, line string, logger *zap.Logger) {
	logger.Debug("crawl progress", zap.String("line", line))
	if err := w.jobStore.AppendLog(context.WithoutCancel(ctx), jobID, line); err != nil {
		logger.Warn("append job log failed", zap.Error(err))
	}
}
