// Package redis implements the crawl job queue on a Redis list so several
// service instances can share one backlog.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// Defaults for Config.
const (
	DefaultKey         = "llmstxt:crawl_jobs"
	DefaultPollTimeout = 5 * time.Second
)

// Config controls the Redis queue.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// PollTimeout bounds each blocking pop so cancellation is noticed.
	PollTimeout time.Duration
}

// Queue pushes jobs on the left of a list and pops them from the right.
type Queue struct {
	client      redis.UniversalClient
	key         string
	pollTimeout time.Duration
	owned       bool
}

var _ crawler.Queue = (*Queue)(nil)

// Open dials Redis and verifies the connection with PING.
func Open(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	q := New(client, cfg)
	q.owned = true
	return q, nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, cfg Config) *Queue {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Queue{client: client, key: cfg.Key, pollTimeout: cfg.PollTimeout}
}

// Enqueue serializes job as JSON and pushes it.
func (q *Queue) Enqueue(ctx context.Context, job crawler.QueueItem) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.QueueItem{}, fmt.Errorf("redis brpop: %w", err)
		}
		// BRPOP replies with [key, value].
		var item crawler.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}

// Len reports the backlog size.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}

// Ping checks connectivity for readiness checks.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client when the queue opened it.
func (q *Queue) Close() error {
	if !q.owned {
		return nil
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
