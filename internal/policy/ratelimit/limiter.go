// Package ratelimit implements token-bucket admission control: a per-host
// limiter for Tier-1 politeness and a process-wide window for Tier-2 calls.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds per-host limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	return wait(ctx, limiter, host)
}

// Window admits at most a fixed number of calls per period for every caller in
// the process. Calls are spaced period/calls apart, so no span of one period
// holds more than calls admissions.
type Window struct {
	name    string
	limiter *rate.Limiter
}

// NewWindow builds a single-token bucket refilled every period/calls.
func NewWindow(name string, calls int, period time.Duration) *Window {
	if calls <= 0 || period <= 0 {
		return &Window{name: name, limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Window{
		name:    name,
		limiter: rate.NewLimiter(rate.Every(period/time.Duration(calls)), 1),
	}
}

// Wait blocks until the window admits one more call.
func (w *Window) Wait(ctx context.Context) error {
	return wait(ctx, w.limiter, w.name)
}

func wait(ctx context.Context, limiter *rate.Limiter, label string) error {
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(label, d)
	}
	return nil
}
