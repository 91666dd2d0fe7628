// Package headless contains the Tier-2 fetcher that renders pages in a
// remote, script-capable browser session over the Chrome DevTools Protocol.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultIdleTimeout       = 15 * time.Second
	DefaultSettleDelay       = 3 * time.Second
)

// Fetcher implements crawler.Fetcher against one remote browser endpoint.
// Every Fetch opens a fresh target on the shared allocator.
type Fetcher struct {
	cfg         Config
	sessions    *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewRemote creates a fetcher for endpoint. sessions, when non-nil, bounds
// the number of concurrently open browser targets.
func NewRemote(cfg Config, endpoint string, sessions *semaphore.Weighted) (*Fetcher, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("remote browser endpoint is required")
	}
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), endpoint, chromedp.NoModifyURL)
	return &Fetcher{
		cfg:         cfg,
		sessions:    sessions,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close releases the remote allocator.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL and returns the serialized DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.sessions != nil {
		if err := f.sessions.Acquire(ctx, 1); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("%w: wait for browser session: %w", crawler.ErrTransport, err)
		}
		defer f.sessions.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()

	doc := newDocumentWatch()
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		f.prepare(request.Headers),
		doc.drainIdle(),
		chromedp.Navigate(request.URL),
		waitForSettle(doc.idle, f.idleTimeout(), f.settleDelay()),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: render %s: %w", crawler.ErrTransport, request.URL, err)
	}

	status, headers, finalURL := doc.result(request.URL, location)
	return crawler.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// prepare enables the CDP domains the watch relies on and applies the
// configured user agent and per-request headers.
func (f *Fetcher) prepare(headers http.Header) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user agent: %w", err)
			}
		}
		if extra := toNetworkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	}
}

// waitForSettle returns as soon as the page reports networkIdle. If idle does
// not arrive within timeout it sleeps the settle delay instead. Neither path
// is an error; the DOM is read as-is.
func waitForSettle(idle <-chan struct{}, timeout, settle time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-idle:
				return nil
			case <-timer.C:
			case <-ctx.Done():
				return fmt.Errorf("wait for network idle: %w", ctx.Err())
			}
		}
		if err := chromedp.Sleep(settle).Do(ctx); err != nil {
			return fmt.Errorf("settle delay: %w", err)
		}
		return nil
	}
}

// documentWatch follows target events for the main document response and
// the networkIdle lifecycle signal.
type documentWatch struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
	idle    chan struct{}
}

func newDocumentWatch() *documentWatch {
	return &documentWatch{idle: make(chan struct{}, 1)}
}

// drainIdle discards a networkIdle signal left over from the blank tab.
func (d *documentWatch) drainIdle() chromedp.ActionFunc {
	return func(context.Context) error {
		select {
		case <-d.idle:
		default:
		}
		return nil
	}
}

func (d *documentWatch) observe(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		headers := fromNetworkHeaders(e.Response.Headers)
		d.mu.Lock()
		d.status = int(e.Response.Status)
		d.headers = headers
		d.url = e.Response.URL
		d.mu.Unlock()
	case *page.EventLifecycleEvent:
		if e.Name != "networkIdle" {
			return
		}
		select {
		case d.idle <- struct{}{}:
		default:
		}
	}
}

// result reports the last document response. Missing values fall back to
// 200, the browser location, and finally the requested URL.
func (d *documentWatch) result(requestURL, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

func (f *Fetcher) idleTimeout() time.Duration {
	if f.cfg.IdleTimeout != 0 {
		return f.cfg.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (f *Fetcher) settleDelay() time.Duration {
	if f.cfg.SettleDelay != 0 {
		return max(f.cfg.SettleDelay, 0)
	}
	return DefaultSettleDelay
}

// toNetworkHeaders folds repeated values into one comma-separated string,
// the only form CDP accepts.
func toNetworkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) > 0 {
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}

func fromNetworkHeaders(h network.Headers) http.Header {
	out := http.Header{}
	for key, value := range h {
		switch v := value.(type) {
		case string:
			for _, line := range strings.Split(v, "\n") {
				out.Add(key, line)
			}
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}
