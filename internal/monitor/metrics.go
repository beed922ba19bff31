// Package monitor aggregates engine counters and latency samples for the
// metrics endpoint.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks engine activity.
type Metrics struct {
	// Latency histograms
	OrderLatency *LatencyHistogram
	FeedLatency  *LatencyHistogram

	// Counters
	ordersPlaced   uint64
	ordersFilled   uint64
	ordersCanceled uint64
	ticksProcessed uint64
	cyclesRun      uint64
	errorsCount    uint64

	startedAt time.Time
}

// NewMetrics creates a metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		OrderLatency: NewLatencyHistogram(1000),
		FeedLatency:  NewLatencyHistogram(1000),
		startedAt:    time.Now(),
	}
}

// LatencyHistogram tracks latency samples with a sliding window. Stats are
// recomputed lazily, only when new samples arrived.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg and percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	p95 := int(float64(n) * 0.95)
	p99 := int(float64(n) * 0.99)
	if p95 >= n {
		p95 = n - 1
	}
	if p99 >= n {
		p99 = n - 1
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[p95],
		P99:   sorted[p99],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// IncrementPlaced counts a placed order.
func (m *Metrics) IncrementPlaced() { atomic.AddUint64(&m.ordersPlaced, 1) }

// IncrementFilled counts an observed fill.
func (m *Metrics) IncrementFilled() { atomic.AddUint64(&m.ordersFilled, 1) }

// IncrementCanceled counts a cancellation.
func (m *Metrics) IncrementCanceled() { atomic.AddUint64(&m.ordersCanceled, 1) }

// IncrementTicks counts a processed price tick.
func (m *Metrics) IncrementTicks() { atomic.AddUint64(&m.ticksProcessed, 1) }

// IncrementCycles counts a completed trading cycle.
func (m *Metrics) IncrementCycles() { atomic.AddUint64(&m.cyclesRun, 1) }

// IncrementErrors counts an engine error.
func (m *Metrics) IncrementErrors() { atomic.AddUint64(&m.errorsCount, 1) }

// Snapshot is a point-in-time metrics view.
type Snapshot struct {
	OrderLatency   LatencyStats  `json:"order_latency"`
	FeedLatency    LatencyStats  `json:"feed_latency"`
	OrdersPlaced   uint64        `json:"orders_placed"`
	OrdersFilled   uint64        `json:"orders_filled"`
	OrdersCanceled uint64        `json:"orders_canceled"`
	TicksProcessed uint64        `json:"ticks_processed"`
	CyclesRun      uint64        `json:"cycles_run"`
	ErrorsCount    uint64        `json:"errors_count"`
	GoroutineCount int           `json:"goroutine_count"`
	HeapAlloc      uint64        `json:"heap_alloc_bytes"`
	Uptime         time.Duration `json:"uptime_ns"`
	Timestamp      time.Time     `json:"timestamp"`
}

// GetSnapshot returns the current metrics.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		OrderLatency:   m.OrderLatency.Stats(),
		FeedLatency:    m.FeedLatency.Stats(),
		OrdersPlaced:   atomic.LoadUint64(&m.ordersPlaced),
		OrdersFilled:   atomic.LoadUint64(&m.ordersFilled),
		OrdersCanceled: atomic.LoadUint64(&m.ordersCanceled),
		TicksProcessed: atomic.LoadUint64(&m.ticksProcessed),
		CyclesRun:      atomic.LoadUint64(&m.cyclesRun),
		ErrorsCount:    atomic.LoadUint64(&m.errorsCount),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Uptime:         time.Since(m.startedAt),
		Timestamp:      time.Now(),
	}
}
