package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/llmstxt-crawler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func TestLimiter_WaitSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://example.com/a"))
	require.NoError(t, l.Wait(ctx, "https://other.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DisabledWhenRateZero(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com"))
}

func TestWindow_SpacesCallsAcrossPeriod(t *testing.T) {
	t.Parallel()

	w := NewWindow("escalation", 3, time.Minute)
	ctx := context.Background()
	require.NoError(t, w.Wait(ctx))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, w.Wait(short))
}

func TestWindow_CapsAdmissionsPerPeriod(t *testing.T) {
	t.Parallel()

	const calls = 5
	period := 500 * time.Millisecond
	w := NewWindow("escalation", calls, period)

	// The deadline falls inside the first period.
	ctx, cancel := context.WithTimeout(context.Background(), period-50*time.Millisecond)
	defer cancel()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 4*calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Wait(ctx) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, calls, admitted)
}

func TestWindow_Unbounded(t *testing.T) {
	t.Parallel()

	w := NewWindow("off", 0, time.Minute)
	for i := 0; i < 100; i++ {
		require.NoError(t, w.Wait(context.Background()))
	}
}
