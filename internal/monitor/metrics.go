package monitor

import (
	"runtime"
	"strconv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SystemMetrics tracks pipeline performance. It keeps local counters and
// latency windows for the JSON snapshot and mirrors them into prometheus.
// All methods are safe on a nil receiver.
type SystemMetrics struct {
	// Latency histograms
	OrderLatency    *LatencyHistogram
	StrategyLatency *LatencyHistogram
	DBLatency       *LatencyHistogram
	APILatency      *LatencyHistogram

	// Counters
	ordersSubmitted uint64
	ticksProcessed  uint64
	proposals       uint64
	errorsCount     uint64
	apiRequests     uint64
	apiErrors       uint64

	mu          sync.RWMutex
	tickDropped map[string]uint64

	promOrders      *prometheus.CounterVec
	promEvents      *prometheus.CounterVec
	promProposals   *prometheus.CounterVec
	promTicks       prometheus.Counter
	promTickDropped *prometheus.GaugeVec
	promOrderLat    prometheus.Histogram
	promErrors      *prometheus.CounterVec
	promAPI         *prometheus.CounterVec
}

// NewSystemMetrics creates metrics and registers the collectors with reg (nil skips registration).
func NewSystemMetrics(reg prometheus.Registerer) *SystemMetrics {
	m := &SystemMetrics{
		OrderLatency:    NewLatencyHistogram(1000),
		StrategyLatency: NewLatencyHistogram(1000),
		DBLatency:       NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
		tickDropped:     make(map[string]uint64),

		promOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equity_orders_total",
			Help: "Order submissions by result (submitted|rejected|failed|persist_failed)",
		}, []string{"result"}),
		promEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equity_order_events_total",
			Help: "Order lifecycle events received by kind",
		}, []string{"kind"}),
		promProposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equity_proposals_total",
			Help: "Strategy proposals by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		promTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "equity_ticks_total",
			Help: "Ticks received from the market feed",
		}),
		promTickDropped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "equity_tick_backlog_dropped",
			Help: "Ticks a strategy lost to backlog since start",
		}, []string{"strategy"}),
		promOrderLat: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "equity_order_submit_seconds",
			Help:    "Latency of order placement round-trips",
			Buckets: prometheus.DefBuckets,
		}),
		promErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equity_errors_total",
			Help: "Errors by component",
		}, []string{"component"}),
		promAPI: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equity_api_requests_total",
			Help: "Operator API requests by status class",
		}, []string{"class"}),
	}
	if reg != nil {
		reg.MustRegister(m.promOrders, m.promEvents, m.promProposals, m.promTicks)
		reg.MustRegister(m.promTickDropped, m.promOrderLat, m.promErrors, m.promAPI)
	}
	return m
}

// LatencyHistogram tracks latency samples with sliding window.
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

// Stats returns min, max, avg, p50, p95, p99. Only recomputed when samples changed.
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
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
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

// ObserveOrder records one placement attempt.
func (m *SystemMetrics) ObserveOrder(result string, d time.Duration) {
	if m == nil {
		return
	}
	if result == "submitted" {
		atomic.AddUint64(&m.ordersSubmitted, 1)
	}
	m.OrderLatency.RecordDuration(d)
	m.promOrders.WithLabelValues(result).Inc()
	m.promOrderLat.Observe(d.Seconds())
}

// ObserveOrderEvent counts an order lifecycle event.
func (m *SystemMetrics) ObserveOrderEvent(kind string) {
	if m == nil {
		return
	}
	m.promEvents.WithLabelValues(kind).Inc()
}

// ObserveProposal counts a strategy decision and its fate (queued|dropped_pending|...).
func (m *SystemMetrics) ObserveProposal(strategy, outcome string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.proposals, 1)
	m.promProposals.WithLabelValues(strategy, outcome).Inc()
}

// ObserveStrategy records one evaluate call.
func (m *SystemMetrics) ObserveStrategy(d time.Duration) {
	if m == nil {
		return
	}
	m.StrategyLatency.RecordDuration(d)
}

// ObserveDB records one storage round-trip.
func (m *SystemMetrics) ObserveDB(d time.Duration) {
	if m == nil {
		return
	}
	m.DBLatency.RecordDuration(d)
}

// IncrementTicks increments processed ticks counter.
func (m *SystemMetrics) IncrementTicks() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticksProcessed, 1)
	m.promTicks.Inc()
}

// SetTickDropped publishes a strategy's backlog loss count.
func (m *SystemMetrics) SetTickDropped(strategy string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.tickDropped[strategy] = n
	m.mu.Unlock()
	m.promTickDropped.WithLabelValues(strategy).Set(float64(n))
}

// IncrementErrors increments the error counter for component.
func (m *SystemMetrics) IncrementErrors(component string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.errorsCount, 1)
	m.promErrors.WithLabelValues(component).Inc()
}

// ObserveAPI records one operator API request.
func (m *SystemMetrics) ObserveAPI(status int, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.apiRequests, 1)
	if status >= 400 {
		atomic.AddUint64(&m.apiErrors, 1)
	}
	m.APILatency.RecordDuration(d)
	m.promAPI.WithLabelValues(strconv.Itoa(status/100) + "xx").Inc()
}

// MetricsSnapshot is a point-in-time view for the operator API.
type MetricsSnapshot struct {
	OrderLatency    LatencyStats      `json:"order_latency"`
	StrategyLatency LatencyStats      `json:"strategy_latency"`
	DBLatency       LatencyStats      `json:"db_latency"`
	APILatency      LatencyStats      `json:"api_latency"`
	OrdersSubmitted uint64            `json:"orders_submitted"`
	TicksProcessed  uint64            `json:"ticks_processed"`
	Proposals       uint64            `json:"proposals"`
	ErrorsCount     uint64            `json:"errors_count"`
	APIRequests     uint64            `json:"api_requests"`
	APIErrors       uint64            `json:"api_errors"`
	TickDropped     map[string]uint64 `json:"tick_dropped"`
	GoroutineCount  int               `json:"goroutine_count"`
	HeapAlloc       uint64            `json:"heap_alloc_bytes"`
	Timestamp       time.Time         `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	dropped := make(map[string]uint64, len(m.tickDropped))
	for k, v := range m.tickDropped {
		dropped[k] = v
	}
	m.mu.RUnlock()

	return MetricsSnapshot{
		OrderLatency:    m.OrderLatency.Stats(),
		StrategyLatency: m.StrategyLatency.Stats(),
		DBLatency:       m.DBLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		OrdersSubmitted: atomic.LoadUint64(&m.ordersSubmitted),
		TicksProcessed:  atomic.LoadUint64(&m.ticksProcessed),
		Proposals:       atomic.LoadUint64(&m.proposals),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		TickDropped:     dropped,
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now(),
	}
}
