package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// JobStore persists crawl jobs, their progress log, and extracted pages.
type JobStore struct {
	db  DB
	now func() time.Time
}

var _ crawler.JobStore = (*JobStore)(nil)

// NewJobStore wraps an open pool.
func NewJobStore(db DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	params, err := json.Marshal(job.Parameters.Redacted())
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	const query = `
INSERT INTO crawl_jobs (id, status, submitted_at, params, counters)
VALUES ($1,$2,$3,$4,$5)`
	if _, err := s.db.Exec(ctx, query, job.ID, string(job.Status), job.Submitted, params, counters); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job to status and stamps start and finish times.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	now := s.now()
	var started, finished *time.Time
	if status == crawler.JobStatusRunning {
		started = &now
	}
	if status.Terminal() {
		finished = &now
	}
	const query = `
UPDATE crawl_jobs SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = COALESCE(started_at, $5),
	finished_at = COALESCE($6, finished_at)
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, jobID, string(status), errText, payload, started, finished)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// AppendLog adds one progress line to the job's log.
func (s *JobStore) AppendLog(ctx context.Context, jobID string, line string) error {
	const query = `INSERT INTO crawl_job_logs (job_id, line, logged_at) VALUES ($1,$2,$3)`
	if _, err := s.db.Exec(ctx, query, jobID, line, s.now()); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// RecordPages bulk-loads the extracted pages in crawl order.
func (s *JobStore) RecordPages(ctx context.Context, jobID string, pages []crawler.PageRecord) error {
	if len(pages) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(pages))
	for i, p := range pages {
		rows = append(rows, []any{jobID, i, p.URL, p.Title, p.Description, p.Snippet})
	}
	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"crawl_job_pages"},
		[]string{"job_id", "position", "url", "title", "description", "snippet"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy pages: %w", err)
	}
	return nil
}

// SaveOutput stores the rendered document and publish metadata.
func (s *JobStore) SaveOutput(ctx context.Context, jobID string, output crawler.JobOutput) error {
	usage, err := json.Marshal(output.Usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	const query = `
UPDATE crawl_jobs SET document = $2, published_url = $3, content_hash = $4, usage = $5
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, jobID, output.Document, output.PublishedURL, output.ContentHash, usage)
	if err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// GetJob loads a job with its progress log.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	const query = `
SELECT id, status, submitted_at, started_at, finished_at, error_text, params, counters, usage,
	COALESCE(published_url, ''), COALESCE(content_hash, '')
FROM crawl_jobs WHERE id = $1`
	var (
		job                     crawler.Job
		status                  string
		params, counters, usage []byte
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&params,
		&counters,
		&usage,
		&job.PublishedURL,
		&job.ContentHash,
	)
	if err != nil {
		return crawler.Job{}, wrapRowErr("get job "+jobID, err)
	}
	job.Status = crawler.JobStatus(status)
	if err := decodeJSON(params, &job.Parameters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode params: %w", err)
	}
	if err := decodeJSON(counters, &job.Counters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode counters: %w", err)
	}
	if err := decodeJSON(usage, &job.Usage); err != nil {
		return crawler.Job{}, fmt.Errorf("decode usage: %w", err)
	}

	logs, err := s.logs(ctx, jobID)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Logs = logs
	return job, nil
}

func (s *JobStore) logs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT line FROM crawl_job_logs WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows: %w", err)
	}
	return lines, nil
}

// ListPages returns the job's pages in crawl order.
func (s *JobStore) ListPages(ctx context.Context, jobID string) ([]crawler.PageRecord, error) {
	const query = `
SELECT url, title, description, snippet FROM crawl_job_pages
WHERE job_id = $1 ORDER BY position`
	rows, err := s.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()
	var pages []crawler.PageRecord
	for rows.Next() {
		var p crawler.PageRecord
		if err := rows.Scan(&p.URL, &p.Title, &p.Description, &p.Snippet); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page rows: %w", err)
	}
	return pages, nil
}

// GetOutput returns the rendered artifact of a finished job.
func (s *JobStore) GetOutput(ctx context.Context, jobID string) (crawler.JobOutput, error) {
	const query = `
SELECT document, COALESCE(published_url, ''), COALESCE(content_hash, ''), usage
FROM crawl_jobs WHERE id = $1 AND document IS NOT NULL`
	var (
		out   crawler.JobOutput
		usage []byte
	)
	if err := s.db.QueryRow(ctx, query, jobID).Scan(&out.Document, &out.PublishedURL, &out.ContentHash, &usage); err != nil {
		return crawler.JobOutput{}, wrapRowErr("get output "+jobID, err)
	}
	if err := decodeJSON(usage, &out.Usage); err != nil {
		return crawler.JobOutput{}, fmt.Errorf("decode usage: %w", err)
	}
	return out, nil
}

func decodeJSON(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}
