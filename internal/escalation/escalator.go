// Package escalation fetches a page through the cheap Tier-1 transport and
// escalates to the paid Tier-2 renderer only when Tier 1 fails or returns a
// block page.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
)

// DefaultCostPerRequest is the estimated USD price of one Tier-2 render.
const DefaultCostPerRequest = 0.02

// Outcome enumerates how a URL fetch resolved.
type Outcome int

const (
	// OutcomeFailed means no usable body was obtained.
	OutcomeFailed Outcome = iota
	// OutcomeDirect means Tier 1 returned meaningful content.
	OutcomeDirect
	// OutcomeEscalated means Tier 2 returned rendered markup.
	OutcomeEscalated
	// OutcomeFallback means Tier 2 errored and the Tier-1 body was kept.
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDirect:
		return "direct"
	case OutcomeEscalated:
		return "escalated"
	case OutcomeFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// Result is the resolved fetch for one URL.
type Result struct {
	URL      string
	FinalURL string
	Body     []byte
	Outcome  Outcome
	// Err is set when Outcome is OutcomeFailed.
	Err error
}

// OK reports whether the result carries a body worth extracting.
func (r Result) OK() bool {
	return r.Outcome != OutcomeFailed
}

// Waiter blocks until a shared rate ceiling admits one more call.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Option customizes an Escalator.
type Option func(*Escalator)

// WithRenderer sets the Tier-2 transport. A non-nil err records that
// escalation was requested but cannot run; the first URL that needs Tier 2
// receives err and Tier 2 stays off for the rest of the crawl.
func WithRenderer(renderer crawler.Fetcher, err error) Option {
	return func(e *Escalator) {
		e.renderer = renderer
		e.renderErr = err
	}
}

// WithCeiling shares a process-wide rate ceiling with every Tier-2 call.
func WithCeiling(w Waiter) Option {
	return func(e *Escalator) { e.ceiling = w }
}

// WithCostPerRequest overrides DefaultCostPerRequest.
func WithCostPerRequest(usd float64) Option {
	return func(e *Escalator) { e.costPerRequest = usd }
}

// WithHeaders attaches headers to every request.
func WithHeaders(h http.Header) Option {
	return func(e *Escalator) { e.headers = h }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Escalator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Escalator runs the two-tier fetch policy for one crawl. It accumulates
// usage across calls and is not safe for concurrent use.
type Escalator struct {
	direct         crawler.Fetcher
	checker        crawler.ContentChecker
	renderer       crawler.Fetcher
	renderErr      error
	ceiling        Waiter
	costPerRequest float64
	headers        http.Header
	logger         *zap.Logger

	tier2Off bool
	usage    crawler.Usage
}

// New builds an Escalator around the Tier-1 fetcher and content checker.
func New(direct crawler.Fetcher, checker crawler.ContentChecker, opts ...Option) *Escalator {
	e := &Escalator{
		direct:         direct,
		checker:        checker,
		costPerRequest: DefaultCostPerRequest,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Usage returns the Tier-2 counters accumulated so far.
func (e *Escalator) Usage() crawler.Usage {
	return e.usage
}

// Fetch resolves url: Tier 1 first, Tier 2 on transport or quality failure,
// and the Tier-1 body when Tier 2 errors.
func (e *Escalator) Fetch(ctx context.Context, url string) Result {
	res := Result{URL: url, FinalURL: url}
	req := crawler.FetchRequest{URL: url, Headers: e.headers}

	var (
		fallback  []byte
		tier1Err  error
		fallbackU string
	)
	resp, err := e.direct.Fetch(ctx, req)
	switch {
	case err != nil:
		tier1Err = err
		metrics.ObservePage(url, "tier1", "error", 0)
	case e.checker.Meaningful(resp.Body):
		metrics.ObservePage(url, "tier1", "ok", len(resp.Body))
		res.Body = resp.Body
		res.FinalURL = finalURL(resp.URL, url)
		res.Outcome = OutcomeDirect
		return res
	default:
		tier1Err = crawler.ErrLowQuality
		fallback = resp.Body
		fallbackU = finalURL(resp.URL, url)
		metrics.ObservePage(url, "tier1", "low_quality", len(resp.Body))
	}

	if e.tier2Off {
		return failed(res, tier1Err)
	}
	if e.renderErr != nil {
		e.tier2Off = true
		e.logger.Warn("tier-2 escalation unavailable", zap.String("url", url), zap.Error(e.renderErr))
		return failed(res, e.renderErr)
	}
	if e.renderer == nil {
		return failed(res, tier1Err)
	}

	body, rendered, err := e.render(ctx, req)
	if err != nil {
		e.logger.Debug("tier-2 fetch failed", zap.String("url", url), zap.Error(err))
		if fallback != nil {
			res.Body = fallback
			res.FinalURL = fallbackU
			res.Outcome = OutcomeFallback
			return res
		}
		return failed(res, fmt.Errorf("tier-2 after %w: %w", tier1Err, err))
	}
	res.Body = body
	res.FinalURL = finalURL(rendered, url)
	res.Outcome = OutcomeEscalated
	return res
}

func (e *Escalator) render(ctx context.Context, req crawler.FetchRequest) ([]byte, string, error) {
	if e.ceiling != nil {
		if err := e.ceiling.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("escalation ceiling: %w", err)
		}
	}
	e.usage.Requests++
	e.usage.EstimatedCostUSD += e.costPerRequest

	resp, err := e.renderer.Fetch(ctx, req)
	if err != nil {
		metrics.ObserveEscalation("error", e.costPerRequest)
		metrics.ObservePage(req.URL, "tier2", "error", 0)
		return nil, "", err
	}
	if e.checker.Meaningful(resp.Body) {
		e.usage.Successful++
		metrics.ObserveEscalation("rendered", e.costPerRequest)
		metrics.ObservePage(req.URL, "tier2", "ok", len(resp.Body))
	} else {
		metrics.ObserveEscalation("low_quality", e.costPerRequest)
		metrics.ObservePage(req.URL, "tier2", "low_quality", len(resp.Body))
	}
	return resp.Body, resp.URL, nil
}

func failed(res Result, err error) Result {
	if err == nil {
		err = errors.New("fetch failed")
	}
	res.Outcome = OutcomeFailed
	res.Err = err
	return res
}

func finalURL(got, requested string) string {
	if got == "" {
		return requested
	}
	return got
}
