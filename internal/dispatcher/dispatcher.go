// Package dispatcher manages worker fan-out over the crawl job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
)

// Runner is a long-lived loop that stops when its context ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers and runs any
// background loops alongside them.
type Dispatcher struct {
	queue   crawler.Queue
	clock   crawler.Clock
	runners []Runner
}

// New creates a Dispatcher.
func New(queue crawler.Queue, clock crawler.Clock, runners ...Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		clock:   clock,
		runners: runners,
	}
}

// Run starts all runners and blocks until the context finishes and every
// runner has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue stamps the submission time and hands item to the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if item.Submitted == 0 && d.clock != nil {
		item.Submitted = d.clock.Now().Unix()
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusQueued))
	return nil
}
