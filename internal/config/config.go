// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/schedule"
)

// EnvPrefix namespaces environment overrides, e.g. LLMSTXT_SERVER_PORT.
const EnvPrefix = "LLMSTXT"

// Storage and queue backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendRedis  = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Sitemap    SitemapConfig    `mapstructure:"sitemap"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Recrawl    RecrawlConfig    `mapstructure:"recrawl"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Redis      RedisConfig      `mapstructure:"redis"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the worker pool and per-crawl defaults.
type CrawlerConfig struct {
	Workers           int     `mapstructure:"workers"`
	UserAgent         string  `mapstructure:"user_agent"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	MaxPagesDefault   int     `mapstructure:"max_pages_default"`
	DescLengthDefault int     `mapstructure:"desc_length_default"`
	AttemptMultiplier int     `mapstructure:"attempt_multiplier"`
	PerHostRPS        float64 `mapstructure:"per_host_rps"`
	PerHostBurst      int     `mapstructure:"per_host_burst"`
	MinBodyLength     int     `mapstructure:"min_body_length"`
	MinTextLength     int     `mapstructure:"min_text_length"`
}

// HTTPConfig configures the Tier-1 client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// EscalationConfig configures the Tier-2 remote browser.
type EscalationConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	Host               string  `mapstructure:"host"`
	CustomerID         string  `mapstructure:"customer_id"`
	Zone               string  `mapstructure:"zone"`
	Password           string  `mapstructure:"password"`
	MaxParallel        int     `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int     `mapstructure:"nav_timeout_seconds"`
	IdleTimeoutSeconds int     `mapstructure:"idle_timeout_seconds"`
	SettleDelayMs      int     `mapstructure:"settle_delay_ms"`
	CostPerRequest     float64 `mapstructure:"cost_per_request"`
}

// Credentials returns the operator-level Tier-2 account.
func (e EscalationConfig) Credentials() crawler.EscalationCredentials {
	return crawler.EscalationCredentials{CustomerID: e.CustomerID, Zone: e.Zone, Password: e.Password}
}

// RateLimitConfig sets the process-wide Tier-2 ceiling.
type RateLimitConfig struct {
	CallsPerWindow int `mapstructure:"calls_per_window"`
	WindowSeconds  int `mapstructure:"window_seconds"`
}

// SitemapConfig bounds sitemap discovery.
type SitemapConfig struct {
	Candidates   []string `mapstructure:"candidates"`
	MaxDepth     int      `mapstructure:"max_depth"`
	MaxDocuments int      `mapstructure:"max_documents"`
}

// ScheduleConfig selects the recrawl interval policy.
type ScheduleConfig struct {
	Mode string `mapstructure:"mode"`
}

// RecrawlConfig controls the periodic sweep.
type RecrawlConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	Concurrency     int  `mapstructure:"concurrency"`
}

// StorageConfig selects where llms.txt documents are published.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	Prefix        string `mapstructure:"prefix"`
	LocalDir      string `mapstructure:"local_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	CacheControl  string `mapstructure:"cache_control"`
}

// DBConfig controls access to Postgres. An empty DSN keeps jobs and sites in memory.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	SitesTable             string `mapstructure:"sites_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// QueueConfig selects the job queue.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
	Depth   int    `mapstructure:"depth"`
}

// RedisConfig configures the shared job queue.
type RedisConfig struct {
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Key                string `mapstructure:"key"`
	PollTimeoutSeconds int    `mapstructure:"poll_timeout_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project disables notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.user_agent", "llmstxt-crawler/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_pages_default", 50)
	v.SetDefault("crawler.desc_length_default", 500)
	v.SetDefault("crawler.attempt_multiplier", 3)
	v.SetDefault("crawler.per_host_rps", 0)
	v.SetDefault("crawler.per_host_burst", 1)
	v.SetDefault("crawler.min_body_length", 100)
	v.SetDefault("crawler.min_text_length", 200)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("escalation.enabled", false)
	v.SetDefault("escalation.host", "brd.superproxy.io:9222")
	v.SetDefault("escalation.customer_id", "")
	v.SetDefault("escalation.zone", "")
	v.SetDefault("escalation.password", "")
	v.SetDefault("escalation.max_parallel", 2)
	v.SetDefault("escalation.nav_timeout_seconds", 60)
	v.SetDefault("escalation.idle_timeout_seconds", 15)
	v.SetDefault("escalation.settle_delay_ms", 3000)
	v.SetDefault("escalation.cost_per_request", 0.02)
	v.SetDefault("rate_limit.calls_per_window", 20)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("sitemap.candidates", []string{"/sitemap_index.xml", "/sitemap.xml"})
	v.SetDefault("sitemap.max_depth", 4)
	v.SetDefault("sitemap.max_documents", 100)
	v.SetDefault("schedule.mode", string(schedule.ModeFixed))
	v.SetDefault("recrawl.enabled", false)
	v.SetDefault("recrawl.interval_minutes", 60)
	v.SetDefault("recrawl.concurrency", 4)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "llms")
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.cache_control", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.sites_table", "crawl_sites")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate", true)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "llmstxt:crawl_jobs")
	v.SetDefault("redis.poll_timeout_seconds", 5)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "llms-txt-updates")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.MaxPagesDefault <= 0 || c.Crawler.DescLengthDefault <= 0 {
		return fmt.Errorf("crawler.max_pages_default and crawler.desc_length_default must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Escalation.Enabled {
		if creds := c.Escalation.Credentials(); !creds.Configured() {
			return fmt.Errorf("escalation.customer_id and escalation.zone must be set when escalation is enabled")
		}
		if c.Escalation.MaxParallel <= 0 {
			return fmt.Errorf("escalation.max_parallel must be > 0 when escalation is enabled")
		}
	}
	if c.RateLimit.CallsPerWindow < 0 || c.RateLimit.WindowSeconds < 0 {
		return fmt.Errorf("rate_limit values must be >= 0")
	}
	if _, err := schedule.ParseMode(c.Schedule.Mode); err != nil {
		return fmt.Errorf("schedule.mode: %w", err)
	}
	if c.Recrawl.Enabled && c.Recrawl.IntervalMinutes <= 0 {
		return fmt.Errorf("recrawl.interval_minutes must be > 0 when recrawl is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case BackendMemory:
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis queue")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	return nil
}

// ScheduleMode returns the parsed schedule mode. Call after Validate.
func (c Config) ScheduleMode() schedule.Mode {
	mode, _ := schedule.ParseMode(c.Schedule.Mode)
	return mode
}

// RequestTimeout bounds one API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// HTTPTimeout bounds one Tier-1 fetch.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RateWindow is the rolling period of the Tier-2 ceiling.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// RecrawlInterval is the period between recrawl sweeps.
func (c Config) RecrawlInterval() time.Duration {
	return time.Duration(c.Recrawl.IntervalMinutes) * time.Minute
}
