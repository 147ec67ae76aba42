package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics counts lifecycle activity. All methods accept a nil receiver.
type Metrics struct {
	// Latency histograms
	OrderLatency  *LatencyHistogram // submit round trip
	CancelLatency *LatencyHistogram

	ticks             atomic.Uint64
	fills             atomic.Uint64
	regularPlaced     atomic.Uint64
	bracketsPlaced    atomic.Uint64
	bracketFailures   atomic.Uint64
	exitFills         atomic.Uint64
	unknownFills      atomic.Uint64
	cancels           atomic.Uint64
	cancelFailures    atomic.Uint64
	orphansCanceled   atomic.Uint64
	streamErrors      atomic.Uint64
	keepAliveFailures atomic.Uint64
	quoteCycles       atomic.Uint64

	started time.Time
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		OrderLatency:  NewLatencyHistogram(1000),
		CancelLatency: NewLatencyHistogram(1000),
		started:       time.Now(),
	}
}

func (m *Metrics) IncTicks() {
	if m != nil {
		m.ticks.Add(1)
	}
}

func (m *Metrics) IncFills() {
	if m != nil {
		m.fills.Add(1)
	}
}

func (m *Metrics) IncRegularPlaced() {
	if m != nil {
		m.regularPlaced.Add(1)
	}
}

func (m *Metrics) IncBracketsPlaced() {
	if m != nil {
		m.bracketsPlaced.Add(1)
	}
}

func (m *Metrics) IncBracketFailures() {
	if m != nil {
		m.bracketFailures.Add(1)
	}
}

func (m *Metrics) IncExitFills() {
	if m != nil {
		m.exitFills.Add(1)
	}
}

func (m *Metrics) IncUnknownFills() {
	if m != nil {
		m.unknownFills.Add(1)
	}
}

func (m *Metrics) IncCancels() {
	if m != nil {
		m.cancels.Add(1)
	}
}

func (m *Metrics) IncCancelFailures() {
	if m != nil {
		m.cancelFailures.Add(1)
	}
}

func (m *Metrics) IncOrphansCanceled() {
	if m != nil {
		m.orphansCanceled.Add(1)
	}
}

func (m *Metrics) IncStreamErrors() {
	if m != nil {
		m.streamErrors.Add(1)
	}
}

func (m *Metrics) IncKeepAliveFailures() {
	if m != nil {
		m.keepAliveFailures.Add(1)
	}
}

func (m *Metrics) IncQuoteCycles() {
	if m != nil {
		m.quoteCycles.Add(1)
	}
}

// ObserveOrder records a submit round trip.
func (m *Metrics) ObserveOrder(d time.Duration) {
	if m != nil && m.OrderLatency != nil {
		m.OrderLatency.RecordDuration(d)
	}
}

// ObserveCancel records a cancel round trip.
func (m *Metrics) ObserveCancel(d time.Duration) {
	if m != nil && m.CancelLatency != nil {
		m.CancelLatency.RecordDuration(d)
	}
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	OrderLatency      LatencyStats `json:"order_latency"`
	CancelLatency     LatencyStats `json:"cancel_latency"`
	Ticks             uint64       `json:"ticks"`
	Fills             uint64       `json:"fills"`
	RegularPlaced     uint64       `json:"regular_placed"`
	BracketsPlaced    uint64       `json:"brackets_placed"`
	BracketFailures   uint64       `json:"bracket_failures"`
	ExitFills         uint64       `json:"exit_fills"`
	UnknownFills      uint64       `json:"unknown_fills"`
	Cancels           uint64       `json:"cancels"`
	CancelFailures    uint64       `json:"cancel_failures"`
	OrphansCanceled   uint64       `json:"orphans_canceled"`
	StreamErrors      uint64       `json:"stream_errors"`
	KeepAliveFailures uint64       `json:"keepalive_failures"`
	QuoteCycles       uint64       `json:"quote_cycles"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	Uptime            string       `json:"uptime"`
	Timestamp         time.Time    `json:"timestamp"`
}

// Snapshot returns a point-in-time metrics snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		OrderLatency:      m.OrderLatency.Stats(),
		CancelLatency:     m.CancelLatency.Stats(),
		Ticks:             m.ticks.Load(),
		Fills:             m.fills.Load(),
		RegularPlaced:     m.regularPlaced.Load(),
		BracketsPlaced:    m.bracketsPlaced.Load(),
		BracketFailures:   m.bracketFailures.Load(),
		ExitFills:         m.exitFills.Load(),
		UnknownFills:      m.unknownFills.Load(),
		Cancels:           m.cancels.Load(),
		CancelFailures:    m.cancelFailures.Load(),
		OrphansCanceled:   m.orphansCanceled.Load(),
		StreamErrors:      m.streamErrors.Load(),
		KeepAliveFailures: m.keepAliveFailures.Load(),
		QuoteCycles:       m.quoteCycles.Load(),
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		Uptime:            time.Since(m.started).Truncate(time.Second).String(),
		Timestamp:         time.Now(),
	}
}

// LatencyHistogram tracks latency samples in a sliding window.
// Stats are recomputed lazily when samples change.
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

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	if h == nil {
		return LatencyStats{}
	}
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

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
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
