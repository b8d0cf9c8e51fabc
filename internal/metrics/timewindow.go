// Package metrics keeps recent command latency samples in memory and reduces
// them to per-window summaries for the agent status endpoint.
package metrics

import (
	"math"
	"slices"
	"time"
)

// TimeWindow is a trailing time range of a summary.
type TimeWindow int

const (
	TimeWindow1m TimeWindow = iota
	TimeWindow5m
	TimeWindow15m
	TimeWindow1h
)

// Duration returns the time.Duration for the window.
func (tw TimeWindow) Duration() time.Duration {
	switch tw {
	case TimeWindow5m:
		return 5 * time.Minute
	case TimeWindow15m:
		return 15 * time.Minute
	case TimeWindow1h:
		return time.Hour
	default:
		return time.Minute
	}
}

// String returns a display label.
func (tw TimeWindow) String() string {
	switch tw {
	case TimeWindow5m:
		return "5m"
	case TimeWindow15m:
		return "15m"
	case TimeWindow1h:
		return "1h"
	default:
		return "1m"
	}
}

// AllTimeWindows returns all available time windows in order.
func AllTimeWindows() []TimeWindow {
	return []TimeWindow{
		TimeWindow1m,
		TimeWindow5m,
		TimeWindow15m,
		TimeWindow1h,
	}
}

// Summary is the latency profile of one window.
type Summary struct {
	Window    string  `json:"window"`
	Commands  int     `json:"commands"`
	Failures  int     `json:"failures"`
	PerMinute float64 `json:"per_minute"`
	P50       float64 `json:"p50_ms"`
	P95       float64 `json:"p95_ms"`
	Max       float64 `json:"max_ms"`
}

// percentile uses the nearest-rank method. values is sorted in place.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	slices.Sort(values)
	rank := int(math.Ceil(p * float64(len(values)) / 100))
	rank = max(rank, 1)
	return values[min(rank, len(values))-1]
}
