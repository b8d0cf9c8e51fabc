package metrics

import (
	"sync"
	"testing"
	"time"
)

func sampleAt(at time.Time, ms int, failed bool) Sample {
	return Sample{At: at, Duration: time.Duration(ms) * time.Millisecond, Failed: failed}
}

func TestCircularBuffer_Eviction(t *testing.T) {
	buf := NewCircularBuffer(3)
	now := time.Now()

	for i := 1; i <= 4; i++ {
		buf.Push(sampleAt(now, i, false))
	}

	if buf.Len() != 3 {
		t.Errorf("expected len 3 after eviction, got %d", buf.Len())
	}
	got := buf.Since(time.Time{})
	for i, want := range []int{2, 3, 4} {
		if got[i].Duration != time.Duration(want)*time.Millisecond {
			t.Errorf("sample[%d] = %v, want %dms", i, got[i].Duration, want)
		}
	}
}

func TestCircularBuffer_Since(t *testing.T) {
	buf := NewCircularBuffer(10)
	now := time.Now()

	buf.Push(sampleAt(now.Add(-10*time.Minute), 1, false))
	buf.Push(sampleAt(now.Add(-2*time.Minute), 2, false))
	buf.Push(sampleAt(now.Add(-30*time.Second), 3, false))

	if got := buf.Since(now.Add(-5 * time.Minute)); len(got) != 2 {
		t.Errorf("expected 2 samples in the last 5m, got %d", len(got))
	}
	if got := buf.Since(now.Add(time.Second)); len(got) != 0 {
		t.Errorf("expected no samples in the future, got %d", len(got))
	}
}

func TestCircularBuffer_Latest(t *testing.T) {
	buf := NewCircularBuffer(3)
	if _, ok := buf.Latest(); ok {
		t.Error("expected no latest sample on empty buffer")
	}
	now := time.Now()
	for i := 1; i <= 5; i++ {
		buf.Push(sampleAt(now, i, false))
	}
	latest, _ := buf.Latest()
	if latest.Duration != 5*time.Millisecond {
		t.Errorf("latest = %v, want 5ms", latest.Duration)
	}
}

func TestCircularBuffer_InvalidSamples(t *testing.T) {
	buf := NewCircularBuffer(10)

	buf.Push(Sample{Duration: time.Millisecond})
	buf.Push(Sample{At: time.Now(), Duration: -time.Millisecond})
	if buf.Len() != 0 {
		t.Errorf("invalid samples should be dropped, len = %d", buf.Len())
	}

	buf.Push(sampleAt(time.Now(), 1, false))
	if buf.Len() != 1 {
		t.Error("valid sample should be added")
	}
}

func TestCircularBuffer_Concurrent(t *testing.T) {
	buf := NewCircularBuffer(1000)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf.Push(sampleAt(time.Now(), id+j, j%10 == 0))
			}
		}(i)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = buf.Summarize(TimeWindow1m, time.Now())
				_, _ = buf.Latest()
			}
		}()
	}
	wg.Wait()

	if buf.Len() != 1000 {
		t.Errorf("expected len 1000, got %d", buf.Len())
	}
}

func TestCircularBuffer_Summarize(t *testing.T) {
	buf := NewCircularBuffer(100)
	now := time.Now()

	// One old sample outside every window but the hour.
	buf.Push(sampleAt(now.Add(-30*time.Minute), 1000, true))
	for i := 1; i <= 20; i++ {
		buf.Push(sampleAt(now.Add(-time.Duration(i)*time.Second), i*10, i == 20))
	}

	s := buf.Summarize(TimeWindow1m, now)
	if s.Window != "1m" || s.Commands != 20 || s.Failures != 1 {
		t.Errorf("1m summary = %+v", s)
	}
	if s.P50 != 100 || s.P95 != 190 || s.Max != 200 {
		t.Errorf("1m percentiles = %v/%v/%v, want 100/190/200", s.P50, s.P95, s.Max)
	}
	if s.PerMinute != 20 {
		t.Errorf("1m per minute = %v, want 20", s.PerMinute)
	}

	h := buf.Summarize(TimeWindow1h, now)
	if h.Commands != 21 || h.Failures != 2 || h.Max != 1000 {
		t.Errorf("1h summary = %+v", h)
	}

	empty := NewCircularBuffer(1).Summarize(TimeWindow5m, now)
	if empty.Commands != 0 || empty.P95 != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}

func TestTimeWindows(t *testing.T) {
	tests := []struct {
		w    TimeWindow
		d    time.Duration
		name string
	}{
		{TimeWindow1m, time.Minute, "1m"},
		{TimeWindow5m, 5 * time.Minute, "5m"},
		{TimeWindow15m, 15 * time.Minute, "15m"},
		{TimeWindow1h, time.Hour, "1h"},
	}
	if len(AllTimeWindows()) != len(tests) {
		t.Fatalf("AllTimeWindows() has %d entries, want %d", len(AllTimeWindows()), len(tests))
	}
	for _, tt := range tests {
		if tt.w.Duration() != tt.d || tt.w.String() != tt.name {
			t.Errorf("%d: got %v/%q, want %v/%q", tt.w, tt.w.Duration(), tt.w.String(), tt.d, tt.name)
		}
	}
}

func BenchmarkCircularBuffer_Push(b *testing.B) {
	buf := NewCircularBuffer(DefaultBufferCapacity)
	s := sampleAt(time.Now(), 1, false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Push(s)
	}
}

func BenchmarkCircularBuffer_Summarize(b *testing.B) {
	buf := NewCircularBuffer(DefaultBufferCapacity)
	now := time.Now()
	for i := 0; i < DefaultBufferCapacity; i++ {
		buf.Push(sampleAt(now.Add(-time.Duration(i)*time.Millisecond), i%500, false))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Summarize(TimeWindow5m, now)
	}
}
