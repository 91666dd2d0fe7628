package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type countingRunner struct {
	started chan struct{}
	stopped atomic.Bool
}

func (r *countingRunner) Run(ctx context.Context) {
	r.started <- struct{}{}
	<-ctx.Done()
	r.stopped.Store(true)
}

type recordingQueue struct {
	items []crawler.QueueItem
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	<-ctx.Done()
	return crawler.QueueItem{}, ctx.Err()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestDispatcherRunStartsRunners(t *testing.T) {
	t.Parallel()

	a := &countingRunner{started: make(chan struct{}, 1)}
	b := &countingRunner{started: make(chan struct{}, 1)}
	dispatch := New(&recordingQueue{}, nil, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for _, r := range []*countingRunner{a, b} {
		select {
		case <-r.started:
		case <-time.After(time.Second):
			t.Fatal("runner did not start")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.True(t, a.stopped.Load())
	require.True(t, b.stopped.Load())
}

func TestDispatcherEnqueueStampsSubmission(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	dispatch := New(queue, fixedClock{now: time.Unix(1234, 0)})

	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "a"}))
	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "b", Submitted: 99}))

	require.Equal(t, int64(1234), queue.items[0].Submitted)
	require.Equal(t, int64(99), queue.items[1].Submitted)
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&recordingQueue{err: errors.New("boom")}, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}
