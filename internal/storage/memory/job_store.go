// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]crawler.Job
	pages   map[string][]crawler.PageRecord
	outputs map[string]crawler.JobOutput
}

var _ crawler.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]crawler.Job),
		pages:   make(map[string][]crawler.PageRecord),
		outputs: make(map[string]crawler.JobOutput),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	job.Parameters = job.Parameters.Redacted()
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// AppendLog adds a progress line.
func (s *JobStore) AppendLog(_ context.Context, jobID string, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Logs = append(job.Logs, line)
	s.jobs[jobID] = job
	return nil
}

// RecordPages appends pages for a job.
func (s *JobStore) RecordPages(_ context.Context, jobID string, pages []crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[jobID] = append(s.pages[jobID], pages...)
	return nil
}

// SaveOutput records the rendered artifact and mirrors publish fields onto the job.
func (s *JobStore) SaveOutput(_ context.Context, jobID string, output crawler.JobOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.PublishedURL = output.PublishedURL
	job.ContentHash = output.ContentHash
	job.Usage = output.Usage
	s.jobs[jobID] = job
	s.outputs[jobID] = output
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Logs = append([]string(nil), job.Logs...)
	return job, nil
}

// ListPages returns all recorded pages for a job.
func (s *JobStore) ListPages(_ context.Context, jobID string) ([]crawler.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[jobID]
	out := make([]crawler.PageRecord, len(pages))
	copy(out, pages)
	return out, nil
}

// GetOutput returns the saved artifact for a job.
func (s *JobStore) GetOutput(_ context.Context, jobID string) (crawler.JobOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[jobID]
	if !ok {
		return crawler.JobOutput{}, fmt.Errorf("output %s: %w", jobID, crawler.ErrNotFound)
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
