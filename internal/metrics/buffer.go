package metrics

import (
	"math"
	"sync"
	"time"
)

// DefaultBufferCapacity is the default maximum number of samples.
const DefaultBufferCapacity = 10000

// Sample is one delegated command as seen by the agent.
type Sample struct {
	At       time.Time
	Duration time.Duration
	Failed   bool
}

// IsValid returns false for samples without a timestamp or with a negative
// duration.
func (s Sample) IsValid() bool {
	return !s.At.IsZero() && s.Duration >= 0
}

// CircularBuffer is a fixed-size ring of samples.
// It is thread-safe and evicts the oldest entries when full.
type CircularBuffer struct {
	data     []Sample
	capacity int
	head     int // Next write position
	size     int // Current element count
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer holding at most capacity samples.
func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &CircularBuffer{
		data:     make([]Sample, capacity),
		capacity: capacity,
	}
}

// Push adds a sample, evicting the oldest if at capacity.
func (b *CircularBuffer) Push(s Sample) {
	if !s.IsValid() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[b.head] = s
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Since returns the samples at or after since in chronological order.
func (b *CircularBuffer) Since(since time.Time) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil
	}

	oldestIdx := (b.head - b.size + b.capacity) % b.capacity

	var result []Sample
	for i := 0; i < b.size; i++ {
		idx := (oldestIdx + i) % b.capacity
		if !b.data[idx].At.Before(since) {
			result = append(result, b.data[idx])
		}
	}
	return result
}

// Latest returns the most recent sample.
func (b *CircularBuffer) Latest() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return Sample{}, false
	}
	// head points to next write position, so latest is at head-1
	return b.data[(b.head-1+b.capacity)%b.capacity], true
}

// Len returns the current number of samples.
func (b *CircularBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the capacity of the buffer.
func (b *CircularBuffer) Cap() int {
	return b.capacity
}

// Summarize reduces the samples of the last window before now.
func (b *CircularBuffer) Summarize(window TimeWindow, now time.Time) Summary {
	samples := b.Since(now.Add(-window.Duration()))
	s := Summary{Window: window.String(), Commands: len(samples)}
	if len(samples) == 0 {
		return s
	}

	ms := make([]float64, len(samples))
	for i, smp := range samples {
		ms[i] = float64(smp.Duration.Microseconds()) / 1000
		if smp.Failed {
			s.Failures++
		}
	}
	s.P50 = percentile(ms, 50)
	s.P95 = percentile(ms, 95)
	s.Max = percentile(ms, 100)
	s.PerMinute = math.Round(float64(len(samples))/window.Duration().Minutes()*100) / 100
	return s
}
