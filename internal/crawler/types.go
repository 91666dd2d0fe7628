package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// EscalationCredentials identify the remote rendering account used for Tier-2 fetches.
type EscalationCredentials struct {
	CustomerID string `json:"customer_id"`
	Zone       string `json:"zone"`
	Password   string `json:"password,omitempty"`
}

// Configured reports whether enough credentials are present to open a session.
func (c *EscalationCredentials) Configured() bool {
	return c != nil && c.CustomerID != "" && c.Zone != ""
}

// CrawlTarget is the immutable input to one crawl run.
type CrawlTarget struct {
	BaseURL           string
	PageBudget        int
	DescriptionLength int
	// Escalation is nil when Tier-2 was not requested for this run.
	Escalation *EscalationCredentials
}

// PageRecord is the canonical summary extracted from one fetched page.
type PageRecord struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Snippet     string `json:"snippet"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Usage accumulates Tier-2 consumption for a single crawl.
type Usage struct {
	Requests         int     `json:"requests"`
	Successful       int     `json:"successful"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// JobParameters captures per-job knobs requested by the client.
type JobParameters struct {
	URL                    string                 `json:"url"`
	MaxPages               int                    `json:"max_pages"`
	DescriptionLength      int                    `json:"desc_length"`
	RecrawlIntervalMinutes int                    `json:"recrawl_interval_minutes"`
	SentinelURL            string                 `json:"sentinel_url,omitempty"`
	Escalation             *EscalationCredentials `json:"escalation,omitempty"`
}

// Redacted returns a copy safe to expose over the API.
func (p JobParameters) Redacted() JobParameters {
	if p.Escalation == nil {
		return p
	}
	creds := *p.Escalation
	if creds.Password != "" {
		creds.Password = "***"
	}
	p.Escalation = &creds
	return p
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID           string        `json:"id"`
	Status       JobStatus     `json:"status"`
	Submitted    time.Time     `json:"submitted_at"`
	Started      *time.Time    `json:"started_at,omitempty"`
	Finished     *time.Time    `json:"finished_at,omitempty"`
	ErrorText    string        `json:"error_text,omitempty"`
	Parameters   JobParameters `json:"parameters"`
	Counters     JobCounters   `json:"counters"`
	Usage        Usage         `json:"usage"`
	Logs         []string      `json:"logs,omitempty"`
	PublishedURL string        `json:"published_url,omitempty"`
	ContentHash  string        `json:"content_hash,omitempty"`
}

// JobCounters tracks per-job crawl statistics.
type JobCounters struct {
	PagesSucceeded int  `json:"pages_succeeded"`
	PagesFailed    int  `json:"pages_failed"`
	Attempts       int  `json:"attempts"`
	Escalations    int  `json:"escalations"`
	Shortfall      bool `json:"shortfall"`
}

// JobOutput is the rendered artifact recorded once a job completes.
type JobOutput struct {
	Document     string `json:"document"`
	PublishedURL string `json:"published_url"`
	ContentHash  string `json:"content_hash"`
	Usage        Usage  `json:"usage"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job      Job          `json:"job"`
	Pages    []PageRecord `json:"pages"`
	Document string       `json:"document,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string        `json:"job_id"`
	Params    JobParameters `json:"params"`
	Attempt   int           `json:"attempt"`
	Submitted int64         `json:"submitted"`
}

// Site is the persisted schedule row for one published site.
type Site struct {
	ID                       int64      `json:"id"`
	BaseURL                  string     `json:"base_url"`
	PageBudget               int        `json:"max_pages"`
	DescriptionLength        int        `json:"desc_length"`
	RecrawlIntervalMinutes   int        `json:"recrawl_interval_minutes"`
	AvgChangeIntervalMinutes *float64   `json:"avg_change_interval_minutes,omitempty"`
	SentinelURL              string     `json:"sentinel_url"`
	LatestContentHash        string     `json:"latest_llms_hash,omitempty"`
	PublishedURL             string     `json:"llms_txt_url,omitempty"`
	SitemapLastModified      *time.Time `json:"sitemap_newest_lastmod,omitempty"`
	LastChangedAt            *time.Time `json:"last_changed_at,omitempty"`
	LastCrawledAt            *time.Time `json:"last_crawled_at,omitempty"`
	NextCrawlAt              *time.Time `json:"next_crawl_at,omitempty"`
}

// Sentinel returns the URL consulted for change detection, defaulting to the site root.
func (s Site) Sentinel() string {
	if s.SentinelURL != "" {
		return s.SentinelURL
	}
	return s.BaseURL
}

// SiteUpsert carries the columns written after an interactive crawl.
type SiteUpsert struct {
	BaseURL                string
	PageBudget             int
	DescriptionLength      int
	RecrawlIntervalMinutes int
	SentinelURL            string
	ContentHash            string
	PublishedURL           string
	CrawledAt              time.Time
	NextCrawlAt            time.Time
}

// ScheduleUpdate carries the columns written after a recrawl decision.
type ScheduleUpdate struct {
	SiteID                   int64
	NextCrawlAt              time.Time
	SitemapLastModified      *time.Time
	AvgChangeIntervalMinutes *float64
	LastChangedAt            *time.Time
	// ContentHash and PublishedURL are left untouched when empty.
	ContentHash  string
	PublishedURL string
	CrawledAt    *time.Time
}

// ProgressFunc receives human-readable progress lines from a crawl.
type ProgressFunc func(line string)
