// Package collyfetcher implements the cheap Tier-1 fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Fetcher implements crawler.Fetcher on top of a template Colly collector
// that is cloned for every request.
type Fetcher struct {
	timeout  time.Duration
	template *colly.Collector
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	opts := []colly.CollectorOption{colly.Async(false), colly.AllowURLRevisit()}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	// Collectors ignore robots.txt unless told otherwise.
	opts = append(opts, func(c *colly.Collector) { c.IgnoreRobotsTxt = !cfg.RespectRobots })
	if cfg.MaxBodySize > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodySize))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{timeout: cfg.Timeout, template: c}
}

// Fetch executes a single GET, following redirects. Transport failures,
// timeouts, and non-2xx statuses are reported as crawler.ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	v := &visit{headers: request.Headers, start: time.Now()}
	collector := f.template.Clone()
	v.attach(collector)

	if err := f.run(ctx, collector, request.URL, v); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: %w", crawler.ErrTransport, err)
	}
	if code := v.resp.StatusCode; code < http.StatusOK || code >= http.StatusMultipleChoices {
		return crawler.FetchResponse{}, fmt.Errorf("%w: unexpected status %d", crawler.ErrTransport, code)
	}
	return v.resp, nil
}

func (f *Fetcher) run(ctx context.Context, collector *colly.Collector, url string, v *visit) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		if v.err != nil {
			return fmt.Errorf("response from %s: %w", url, v.err)
		}
		return nil
	}
}

// hooks is the callback surface of a colly collector.
type hooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// visit collects the outcome of one collector run.
type visit struct {
	headers http.Header
	start   time.Time
	resp    crawler.FetchResponse
	err     error
}

func (v *visit) attach(h hooks) {
	h.OnRequest(v.onRequest)
	h.OnResponse(v.onResponse)
	h.OnError(v.onError)
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	var headers http.Header
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	v.resp = crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(_ *colly.Response, err error) {
	v.err = err
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
