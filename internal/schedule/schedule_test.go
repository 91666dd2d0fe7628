package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func float(v float64) *float64 { return &v }

func TestComputeNextCrawl_FixedUsesBaseline(t *testing.T) {
	t.Parallel()

	prev := now.Add(-48 * time.Hour)
	res := ComputeNextCrawl(ModeFixed, Input{
		BaselineMinutes:          10080,
		AvgChangeIntervalMinutes: float(90),
		LastChangedAt:            &prev,
		Changed:                  false,
		Now:                      now,
	})

	require.Equal(t, now.Add(10080*time.Minute), res.NextCrawlAt)
	require.Equal(t, 90.0, *res.AvgChangeIntervalMinutes)
	require.Equal(t, prev, *res.LastChangedAt)
}

func TestComputeNextCrawl_FixedRecordsChange(t *testing.T) {
	t.Parallel()

	res := ComputeNextCrawl(ModeFixed, Input{BaselineMinutes: 30, Changed: true, Now: now})

	require.Equal(t, now.Add(30*time.Minute), res.NextCrawlAt)
	require.Nil(t, res.AvgChangeIntervalMinutes)
	require.Equal(t, now, *res.LastChangedAt)
}

func TestComputeNextCrawl_AdaptiveSmoothsGap(t *testing.T) {
	t.Parallel()

	prev := now.Add(-240 * time.Minute)
	res := ComputeNextCrawl(ModeAdaptive, Input{
		BaselineMinutes:          1440,
		AvgChangeIntervalMinutes: float(120),
		LastChangedAt:            &prev,
		Changed:                  true,
		Now:                      now,
	})

	require.InDelta(t, 180.0, *res.AvgChangeIntervalMinutes, 1e-9)
	require.Equal(t, now.Add(180*time.Minute), res.NextCrawlAt)
	require.Equal(t, now, *res.LastChangedAt)
}

func TestComputeNextCrawl_AdaptiveDefaultsToBaseline(t *testing.T) {
	t.Parallel()

	res := ComputeNextCrawl(ModeAdaptive, Input{BaselineMinutes: 720, Now: now})

	require.Equal(t, 720.0, *res.AvgChangeIntervalMinutes)
	require.Equal(t, now.Add(720*time.Minute), res.NextCrawlAt)
	require.Nil(t, res.LastChangedAt)
}

func TestComputeNextCrawl_AdaptiveChangeWithoutHistory(t *testing.T) {
	t.Parallel()

	res := ComputeNextCrawl(ModeAdaptive, Input{BaselineMinutes: 600, Changed: true, Now: now})

	require.Equal(t, 600.0, *res.AvgChangeIntervalMinutes)
	require.Equal(t, now, *res.LastChangedAt)
}

func TestComputeNextCrawl_AdaptiveClamps(t *testing.T) {
	t.Parallel()

	low := ComputeNextCrawl(ModeAdaptive, Input{AvgChangeIntervalMinutes: float(5), Now: now})
	require.Equal(t, now.Add(MinIntervalMinutes*time.Minute), low.NextCrawlAt)
	require.Equal(t, 5.0, *low.AvgChangeIntervalMinutes)

	high := ComputeNextCrawl(ModeAdaptive, Input{AvgChangeIntervalMinutes: float(50000), Now: now})
	require.Equal(t, now.Add(MaxIntervalMinutes*time.Minute), high.NextCrawlAt)
	require.Equal(t, 50000.0, *high.AvgChangeIntervalMinutes)
}

func TestComputeNextCrawl_NegativeInputsClamped(t *testing.T) {
	t.Parallel()

	future := now.Add(time.Hour)
	res := ComputeNextCrawl(ModeAdaptive, Input{
		AvgChangeIntervalMinutes: float(100),
		LastChangedAt:            &future,
		Changed:                  true,
		Now:                      now,
	})
	require.InDelta(t, 50.0, *res.AvgChangeIntervalMinutes, 1e-9)
	require.Equal(t, now.Add(MinIntervalMinutes*time.Minute), res.NextCrawlAt)

	fixed := ComputeNextCrawl(ModeFixed, Input{BaselineMinutes: -10, Now: now})
	require.Equal(t, now, fixed.NextCrawlAt)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeFixed, mode)

	mode, err = ParseMode("adaptive")
	require.NoError(t, err)
	require.Equal(t, ModeAdaptive, mode)

	_, err = ParseMode("weekly")
	require.Error(t, err)
}
