package crawler

import (
	"context"
	"io"
	"time"
)

// JobStore persists job metadata, progress logs, and extracted pages.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	AppendLog(ctx context.Context, jobID string, line string) error
	RecordPages(ctx context.Context, jobID string, pages []PageRecord) error
	SaveOutput(ctx context.Context, jobID string, output JobOutput) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListPages(ctx context.Context, jobID string) ([]PageRecord, error)
	GetOutput(ctx context.Context, jobID string) (JobOutput, error)
}

// SiteStore persists per-site schedule rows.
type SiteStore interface {
	UpsertSite(ctx context.Context, site SiteUpsert) (int64, error)
	UpdateSchedule(ctx context.Context, update ScheduleUpdate) error
	DueSites(ctx context.Context, now time.Time) ([]Site, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ContentChecker decides whether a fetched body carries real page content.
type ContentChecker interface {
	Meaningful(body []byte) bool
}

// Renderer turns extracted pages into the published document.
type Renderer interface {
	Render(baseURL string, pages []PageRecord) ([]byte, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
