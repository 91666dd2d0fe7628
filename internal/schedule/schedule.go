// Package schedule computes when a published site is next due for a recrawl.
package schedule

import (
	"fmt"
	"time"
)

// Bounds and smoothing for the adaptive interval, in minutes.
const (
	MinIntervalMinutes = 60
	MaxIntervalMinutes = 10080
	Alpha              = 0.5
)

// Mode selects between the fixed and adaptive policies.
type Mode string

// Supported scheduling modes.
const (
	ModeFixed    Mode = "fixed"
	ModeAdaptive Mode = "adaptive"
)

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFixed, "":
		return ModeFixed, nil
	case ModeAdaptive:
		return ModeAdaptive, nil
	default:
		return "", fmt.Errorf("unknown schedule mode %q", s)
	}
}

// Input is the per-site state consulted after a recrawl decision.
type Input struct {
	BaselineMinutes          int
	AvgChangeIntervalMinutes *float64
	LastChangedAt            *time.Time
	Changed                  bool
	Now                      time.Time
}

// Result is the state to persist for the site.
type Result struct {
	NextCrawlAt              time.Time
	AvgChangeIntervalMinutes *float64
	LastChangedAt            *time.Time
	EffectiveMinutes         float64
}

// ComputeNextCrawl applies the policy for mode. It never fails; out-of-range
// values are clamped and NextCrawlAt is never before in.Now.
func ComputeNextCrawl(mode Mode, in Input) Result {
	baseline := float64(max(in.BaselineMinutes, 0))
	lastChanged := in.LastChangedAt
	if in.Changed {
		lastChanged = pointerTime(in.Now)
	}

	if mode != ModeAdaptive {
		return Result{
			NextCrawlAt:              in.Now.Add(minutes(baseline)),
			AvgChangeIntervalMinutes: in.AvgChangeIntervalMinutes,
			LastChangedAt:            lastChanged,
			EffectiveMinutes:         baseline,
		}
	}

	avg := baseline
	if in.AvgChangeIntervalMinutes != nil {
		avg = *in.AvgChangeIntervalMinutes
	}
	if in.Changed && in.LastChangedAt != nil {
		gap := max(in.Now.Sub(*in.LastChangedAt).Minutes(), 0)
		avg = Alpha*gap + (1-Alpha)*avg
	}
	effective := min(max(avg, MinIntervalMinutes), MaxIntervalMinutes)

	return Result{
		NextCrawlAt:              in.Now.Add(minutes(effective)),
		AvgChangeIntervalMinutes: &avg,
		LastChangedAt:            lastChanged,
		EffectiveMinutes:         effective,
	}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
