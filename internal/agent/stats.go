package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/VividCortex/ewma"

	"github.com/rowpane/rowpane/internal/metrics"
)

// OperationStats summarizes one delegated operation.
type OperationStats struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Failures  int64   `json:"failures"`
	AvgMillis float64 `json:"avg_ms"`
}

type opCounter struct {
	latency  ewma.MovingAverage
	count    int64
	failures int64
}

// opStats tracks a moving average of command latency per operation.
// Recent commands across all operations feed the windowed latency summaries.
type opStats struct {
	mu      sync.Mutex
	ops     map[string]*opCounter
	samples *metrics.CircularBuffer
}

func newOpStats() *opStats {
	return &opStats{
		ops:     make(map[string]*opCounter),
		samples: metrics.NewCircularBuffer(metrics.DefaultBufferCapacity),
	}
}

func (s *opStats) observe(op string, d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ops[op]
	if !ok {
		c = &opCounter{latency: ewma.NewMovingAverage()}
		s.ops[op] = c
	}
	c.latency.Add(float64(d.Microseconds()) / 1000)
	c.count++
	if failed {
		c.failures++
	}
	s.samples.Push(metrics.Sample{At: time.Now(), Duration: d, Failed: failed})
}

// latency summarizes every window ending at now.
func (s *opStats) latency(now time.Time) []metrics.Summary {
	windows := metrics.AllTimeWindows()
	out := make([]metrics.Summary, len(windows))
	for i, w := range windows {
		out[i] = s.samples.Summarize(w, now)
	}
	return out
}

func (s *opStats) snapshot() []OperationStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OperationStats, 0, len(s.ops))
	for op, c := range s.ops {
		out = append(out, OperationStats{
			Operation: op,
			Count:     c.count,
			Failures:  c.failures,
			AvgMillis: c.latency.Value(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}
