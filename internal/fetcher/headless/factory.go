package headless

import (
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// DefaultHost is the remote browser gateway used when Config.Host is empty.
const DefaultHost = "brd.superproxy.io:9222"

// Config controls the Tier-2 rendering subsystem.
type Config struct {
	// Enabled turns escalation on for crawls that do not bring their own credentials.
	Enabled     bool
	Host        string
	Credentials crawler.EscalationCredentials
	UserAgent   string
	MaxParallel int

	NavigationTimeout time.Duration
	// IdleTimeout bounds the wait for networkIdle; negative disables the wait.
	IdleTimeout time.Duration
	// SettleDelay is slept after load so late scripts can finish.
	SettleDelay time.Duration
}

// Factory hands out per-crawl Tier-2 fetchers that share one session limit.
type Factory struct {
	cfg      Config
	sessions *semaphore.Weighted
}

// NewFactory validates cfg and builds a Factory.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	f := &Factory{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.sessions = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return f, nil
}

// ForCrawl returns the Tier-2 fetcher for one crawl. Per-crawl credentials
// take precedence over configured ones. It returns (nil, nil) when
// escalation is off, and crawler.ErrEscalationUnconfigured when escalation
// is on but the credentials are incomplete.
func (f *Factory) ForCrawl(creds *crawler.EscalationCredentials) (*Fetcher, error) {
	if creds == nil {
		if !f.cfg.Enabled {
			return nil, nil
		}
		creds = &f.cfg.Credentials
	}
	endpoint, err := Endpoint(f.cfg.Host, creds)
	if err != nil {
		return nil, err
	}
	return NewRemote(f.cfg, endpoint, f.sessions)
}

// Endpoint builds the CDP websocket URL for the account in creds.
func Endpoint(host string, creds *crawler.EscalationCredentials) (string, error) {
	if !creds.Configured() {
		return "", crawler.ErrEscalationUnconfigured
	}
	user := fmt.Sprintf("brd-customer-%s-zone-%s", creds.CustomerID, creds.Zone)
	u := url.URL{Scheme: "wss", Host: host, User: url.User(user)}
	if creds.Password != "" {
		u.User = url.UserPassword(user, creds.Password)
	}
	return u.String(), nil
}
