package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

func newQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, Config{PollTimeout: 100 * time.Millisecond}), mr
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: "a", Params: crawler.JobParameters{URL: "https://a.example"}}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: "b"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.True(t, mr.Exists(DefaultKey))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", first.JobID)
	require.Equal(t, "https://a.example", first.Params.URL)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", second.JobID)
}

func TestDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueRejectsGarbage(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t)
	_, err := mr.Lpush(DefaultKey, "not-json")
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background())
	require.ErrorContains(t, err, "decode queue item")
	require.NoError(t, q.Ping(context.Background()))
	require.NoError(t, q.Close())
}
