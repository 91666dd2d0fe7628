// Package orchestrator drives a single-site crawl: sitemap-first seeding,
// then a sequential fetch, extract, and expand loop bounded by page and
// attempt budgets.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/escalation"
	"github.com/JakeFAU/llmstxt-crawler/internal/extract"
	"github.com/JakeFAU/llmstxt-crawler/internal/frontier"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
	"github.com/JakeFAU/llmstxt-crawler/internal/sitemap"
)

// DefaultAttemptMultiplier bounds fetch attempts at this multiple of the page budget.
const DefaultAttemptMultiplier = 3

// SitemapSource lists a site's sitemap URLs.
type SitemapSource interface {
	Discover(ctx context.Context, baseURL string) sitemap.Result
}

// Tier2 is a per-crawl rendering transport that owns a remote session.
type Tier2 interface {
	crawler.Fetcher
	Close()
}

// Tier2Source opens the Tier-2 transport for one crawl. It returns a nil
// Tier2 when escalation is off for the run.
type Tier2Source func(creds *crawler.EscalationCredentials) (Tier2, error)

// HostWaiter paces Tier-1 requests per host.
type HostWaiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Direct   crawler.Fetcher
	Checker  crawler.ContentChecker
	Sitemaps SitemapSource
	// Tier2 may be nil to disable escalation entirely.
	Tier2 Tier2Source
	// Ceiling is the process-wide Tier-2 rate ceiling.
	Ceiling escalation.Waiter
	// Politeness may be nil.
	Politeness HostWaiter
}

// Config tunes a crawl.
type Config struct {
	AttemptMultiplier int
	CostPerRequest    float64
	Headers           http.Header
}

// Report summarizes one crawl.
type Report struct {
	Pages       []crawler.PageRecord
	Usage       crawler.Usage
	Attempts    int
	Visited     int
	SitemapURLs int
	// SitemapSource is the sitemap document that seeded the crawl, if any.
	SitemapSource string
	Escalations   int
	// Shortfall is set when fewer pages than the budget were extracted.
	Shortfall bool
	Cancelled bool
}

// Orchestrator runs crawls. One Orchestrator may serve concurrent crawls of
// different sites; each crawl keeps its own frontier and escalator.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.AttemptMultiplier <= 0 {
		cfg.AttemptMultiplier = DefaultAttemptMultiplier
	}
	if cfg.CostPerRequest <= 0 {
		cfg.CostPerRequest = escalation.DefaultCostPerRequest
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}
}

// Crawl harvests up to target.PageBudget pages from target.BaseURL. Per-URL
// failures are logged and skipped; cancellation returns the pages so far.
func (o *Orchestrator) Crawl(ctx context.Context, target crawler.CrawlTarget, progress crawler.ProgressFunc) Report {
	start := time.Now()
	defer func() { metrics.ObserveCrawlDuration(time.Since(start)) }()

	run := &crawlRun{
		orch:     o,
		target:   target,
		base:     crawler.Normalize(target.BaseURL),
		progress: progress,
		logger:   o.logger.With(zap.String("site", target.BaseURL)),
	}
	escalator, closeTier2 := o.newEscalator(target, run.logger)
	defer closeTier2()
	run.escalator = escalator

	run.seed(ctx)
	run.drain(ctx)
	return run.finish()
}

func (o *Orchestrator) newEscalator(target crawler.CrawlTarget, logger *zap.Logger) (*escalation.Escalator, func()) {
	direct := o.deps.Direct
	if o.deps.Politeness != nil {
		direct = politeFetcher{next: direct, waiter: o.deps.Politeness}
	}
	opts := []escalation.Option{
		escalation.WithCostPerRequest(o.cfg.CostPerRequest),
		escalation.WithHeaders(o.cfg.Headers),
		escalation.WithLogger(logger),
	}
	if o.deps.Ceiling != nil {
		opts = append(opts, escalation.WithCeiling(o.deps.Ceiling))
	}
	closer := func() {}
	if o.deps.Tier2 != nil {
		tier2, err := o.deps.Tier2(target.Escalation)
		switch {
		case err != nil:
			opts = append(opts, escalation.WithRenderer(nil, err))
		case tier2 != nil:
			opts = append(opts, escalation.WithRenderer(tier2, nil))
			closer = tier2.Close
		}
	}
	return escalation.New(direct, o.deps.Checker, opts...), closer
}

type crawlRun struct {
	orch      *Orchestrator
	target    crawler.CrawlTarget
	base      string
	escalator *escalation.Escalator
	state     *frontier.State
	progress  crawler.ProgressFunc
	logger    *zap.Logger

	pages         []crawler.PageRecord
	sitemapURLs   int
	sitemapSource string
	escalations   int
	cancelled     bool
}

func (r *crawlRun) say(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.logger.Debug(line)
	if r.progress != nil {
		r.progress(line)
	}
}

func (r *crawlRun) attemptBudget() int {
	return r.target.PageBudget * r.orch.cfg.AttemptMultiplier
}

func (r *crawlRun) seed(ctx context.Context) {
	r.state = frontier.New(r.base)
	if r.orch.deps.Sitemaps == nil {
		r.say("No sitemap source configured; crawling links from %s", r.base)
		return
	}
	r.say("Checking sitemap for %s", r.base)
	res := r.orch.deps.Sitemaps.Discover(ctx, r.base)
	if !res.Found || len(res.URLs) == 0 {
		r.say("No sitemap found; crawling links from %s", r.base)
		return
	}

	seeds := []string{r.base}
	limit := r.attemptBudget()
	for _, u := range res.URLs {
		if len(seeds)-1 >= limit {
			break
		}
		if u == r.base {
			continue
		}
		seeds = append(seeds, u)
	}
	r.state.Reseed(seeds)
	r.sitemapURLs = len(res.URLs)
	r.sitemapSource = res.Source
	r.say("Found %d URLs in sitemap %s; queued %d", len(res.URLs), res.Source, len(seeds))
}

func (r *crawlRun) drain(ctx context.Context) {
	budget := r.target.PageBudget
	for len(r.pages) < budget && r.state.Attempts() < r.attemptBudget() {
		if ctx.Err() != nil {
			r.cancelled = true
			r.say("Crawl cancelled after %d pages", len(r.pages))
			return
		}
		url, ok := r.state.Pop()
		if !ok {
			return
		}
		attempt := r.state.Attempt()
		r.visit(ctx, url, attempt)
	}
}

func (r *crawlRun) visit(ctx context.Context, url string, attempt int) {
	defer r.state.MarkVisited(url)

	res := r.escalator.Fetch(ctx, url)
	if res.Outcome == escalation.OutcomeEscalated || res.Outcome == escalation.OutcomeFallback {
		r.escalations++
	}
	if !res.OK() {
		r.say("[%d] %s failed: %v", attempt, url, res.Err)
		return
	}

	record, links, err := extract.Page(res.Body, res.FinalURL, r.target.DescriptionLength)
	if err != nil {
		r.say("[%d] %s could not be parsed: %v", attempt, url, err)
		return
	}
	record.URL = url
	r.pages = append(r.pages, record)
	r.say("[%d/%d] %s (%s)", len(r.pages), r.target.PageBudget, url, res.Outcome)

	for _, link := range links {
		if crawler.ShouldSkip(link) || !crawler.SameSite(r.base, link) {
			continue
		}
		normalized := crawler.Normalize(link)
		if normalized == url || r.state.IsVisited(normalized) {
			continue
		}
		r.state.Push(normalized)
	}
}

func (r *crawlRun) finish() Report {
	rep := Report{
		Pages:         r.pages,
		Usage:         r.escalator.Usage(),
		Attempts:      r.state.Attempts(),
		Visited:       r.state.Visited(),
		SitemapURLs:   r.sitemapURLs,
		SitemapSource: r.sitemapSource,
		Escalations:   r.escalations,
		Shortfall:     len(r.pages) < r.target.PageBudget,
		Cancelled:     r.cancelled,
	}
	if rep.Shortfall {
		r.say("Collected %d of %d pages after %d attempts", len(rep.Pages), r.target.PageBudget, rep.Attempts)
	} else {
		r.say("Collected %d pages after %d attempts", len(rep.Pages), rep.Attempts)
	}
	if rep.Usage.Requests > 0 {
		r.say("Tier-2 usage: %d requests, %d successful, $%.2f estimated",
			rep.Usage.Requests, rep.Usage.Successful, rep.Usage.EstimatedCostUSD)
	}
	return rep
}

type politeFetcher struct {
	next   crawler.Fetcher
	waiter HostWaiter
}

func (p politeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := p.waiter.Wait(ctx, req.URL); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: %w", crawler.ErrTransport, err)
	}
	return p.next.Fetch(ctx, req)
}
