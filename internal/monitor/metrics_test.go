package monitor

import (
	"testing"
	"time"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}

	stats := h.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.Min != 1 {
		t.Errorf("Min = %v, want 1", stats.Min)
	}
	if stats.Max != 100 {
		t.Errorf("Max = %v, want 100", stats.Max)
	}
	if stats.Avg != 50.5 {
		t.Errorf("Avg = %v, want 50.5", stats.Avg)
	}
	if stats.P50 != 51 {
		t.Errorf("P50 = %v, want 51", stats.P50)
	}
	if stats.P95 != 96 {
		t.Errorf("P95 = %v, want 96", stats.P95)
	}
	if stats.P99 != 100 {
		t.Errorf("P99 = %v, want 100", stats.P99)
	}
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for i := 1; i <= 5; i++ {
		h.Record(float64(i))
	}

	stats := h.Stats()
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.Min != 3 {
		t.Errorf("Min = %v, want 3 after eviction", stats.Min)
	}
}

func TestLatencyHistogramEmpty(t *testing.T) {
	h := NewLatencyHistogram(10)
	stats := h.Stats()
	if stats.Count != 0 || stats.Min != 0 || stats.Max != 0 {
		t.Errorf("empty stats = %+v, want zeros", stats)
	}
}

func TestLatencyHistogramCacheInvalidation(t *testing.T) {
	h := NewLatencyHistogram(10)
	h.Record(5)
	if got := h.Stats().Max; got != 5 {
		t.Fatalf("Max = %v, want 5", got)
	}
	h.Record(9)
	if got := h.Stats().Max; got != 9 {
		t.Errorf("Max after new sample = %v, want 9", got)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncrementPlaced()
	m.IncrementPlaced()
	m.IncrementFilled()
	m.IncrementCanceled()
	m.IncrementTicks()
	m.IncrementCycles()
	m.IncrementErrors()
	m.OrderLatency.RecordDuration(20 * time.Millisecond)

	snap := m.GetSnapshot()
	if snap.OrdersPlaced != 2 {
		t.Errorf("OrdersPlaced = %d, want 2", snap.OrdersPlaced)
	}
	if snap.OrdersFilled != 1 {
		t.Errorf("OrdersFilled = %d, want 1", snap.OrdersFilled)
	}
	if snap.OrdersCanceled != 1 {
		t.Errorf("OrdersCanceled = %d, want 1", snap.OrdersCanceled)
	}
	if snap.CyclesRun != 1 || snap.TicksProcessed != 1 || snap.ErrorsCount != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", snap.CyclesRun, snap.TicksProcessed, snap.ErrorsCount)
	}
	if snap.OrderLatency.Count != 1 {
		t.Errorf("OrderLatency.Count = %d, want 1", snap.OrderLatency.Count)
	}
	if snap.OrderLatency.Max < 19 || snap.OrderLatency.Max > 21 {
		t.Errorf("OrderLatency.Max = %v, want ~20ms", snap.OrderLatency.Max)
	}
	if snap.GoroutineCount <= 0 {
		t.Errorf("GoroutineCount = %d, want positive", snap.GoroutineCount)
	}
}
