package infra

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics keeps lock-free counters for in-process snapshots and mirrors
// them into a private Prometheus registry for scraping.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Counters
	quotesPublished atomic.Uint64
	messagesDropped atomic.Uint64
	ordersSubmitted atomic.Uint64
	ordersFailed    atomic.Uint64
	ordersRejected  atomic.Uint64
	riskCloses      atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64
	lastSkewMs   atomic.Int64

	// Gauges
	activeConnections atomic.Int32
	halted            atomic.Int32 // 1 = halted, 0 = trading

	registry        *prometheus.Registry
	promQuotes      prometheus.Counter
	promDropped     prometheus.Counter
	promOrders      *prometheus.CounterVec
	promFailures    *prometheus.CounterVec
	promLatency     *prometheus.HistogramVec
	promSkew        prometheus.Gauge
	promConnections prometheus.Gauge
	promHalted      prometheus.Gauge
	promZScore      *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		promQuotes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "statarb", Subsystem: "feed", Name: "quotes_published_total",
			Help: "Quotes published into the market state cache",
		}),
		promDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "statarb", Subsystem: "feed", Name: "messages_dropped_total",
			Help: "Malformed or partial feed messages that were discarded",
		}),
		promOrders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statarb", Subsystem: "execution", Name: "orders_submitted_total",
			Help: "Orders acknowledged by the exchange",
		}, []string{"symbol", "closing"}),
		promFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statarb", Subsystem: "execution", Name: "orders_failed_total",
			Help: "Orders the exchange rejected or that failed in transport",
		}, []string{"symbol"}),
		promLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statarb", Subsystem: "execution", Name: "order_roundtrip_ms",
			Help:    "Submission to acknowledgement latency in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 500, 1000, 2000},
		}, []string{"symbol"}),
		promSkew: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "statarb", Subsystem: "execution", Name: "last_exchange_skew_ms",
			Help: "Exchange transaction time minus local request timestamp of the last ack",
		}),
		promConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "statarb", Subsystem: "feed", Name: "active_connections",
			Help: "Open streaming connections",
		}),
		promHalted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "statarb", Subsystem: "risk", Name: "halted",
			Help: "1 while the global kill switch is tripped",
		}),
		promZScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statarb", Subsystem: "signal", Name: "zscore",
			Help: "Latest spread z-score per pair",
		}, []string{"pair"}),
	}
}

// RecordQuote counts a quote published by a market data source.
func (m *Metrics) RecordQuote() {
	if m == nil {
		return
	}
	m.quotesPublished.Add(1)
	m.promQuotes.Inc()
}

// RecordDropped counts a feed message that could not be decoded.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.messagesDropped.Add(1)
	m.promDropped.Inc()
}

// RecordOrder records an acknowledged order, its round trip and the
// exchange-minus-local timestamp skew.
func (m *Metrics) RecordOrder(symbol string, closing bool, roundTrip time.Duration, skewMs int64) {
	if m == nil {
		return
	}
	m.ordersSubmitted.Add(1)
	m.latencySumNs.Add(roundTrip.Nanoseconds())
	m.latencyCount.Add(1)
	m.lastSkewMs.Store(skewMs)

	m.promOrders.WithLabelValues(symbol, strconv.FormatBool(closing)).Inc()
	m.promLatency.WithLabelValues(symbol).Observe(float64(roundTrip.Microseconds()) / 1000)
	m.promSkew.Set(float64(skewMs))
}

// RecordOrderFailure counts an order dropped after a failed submission.
func (m *Metrics) RecordOrderFailure(symbol string) {
	if m == nil {
		return
	}
	m.ordersFailed.Add(1)
	m.promFailures.WithLabelValues(symbol).Inc()
}

// RecordRejected counts an order discarded before submission.
func (m *Metrics) RecordRejected() {
	if m == nil {
		return
	}
	m.ordersRejected.Add(1)
}

// RecordRiskClose counts a forced close issued by the risk engine.
func (m *Metrics) RecordRiskClose() {
	if m == nil {
		return
	}
	m.riskCloses.Add(1)
}

// SetZScore publishes the latest z-score of a pair.
func (m *Metrics) SetZScore(pair string, z float64) {
	if m == nil {
		return
	}
	m.promZScore.WithLabelValues(pair).Set(z)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Add(1)
	m.promConnections.Inc()
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Add(-1)
	m.promConnections.Dec()
}

// SetHalted mirrors the kill switch state.
func (m *Metrics) SetHalted(halted bool) {
	if m == nil {
		return
	}
	if halted {
		m.halted.Store(1)
		m.promHalted.Set(1)
	} else {
		m.halted.Store(0)
		m.promHalted.Set(0)
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	QuotesPublished   uint64
	MessagesDropped   uint64
	OrdersSubmitted   uint64
	OrdersFailed      uint64
	OrdersRejected    uint64
	RiskCloses        uint64
	AvgLatencyNs      int64
	LastSkewMs        int64
	ActiveConnections int32
	Halted            bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		QuotesPublished:   m.quotesPublished.Load(),
		MessagesDropped:   m.messagesDropped.Load(),
		OrdersSubmitted:   m.ordersSubmitted.Load(),
		OrdersFailed:      m.ordersFailed.Load(),
		OrdersRejected:    m.ordersRejected.Load(),
		RiskCloses:        m.riskCloses.Load(),
		AvgLatencyNs:      avgLatency,
		LastSkewMs:        m.lastSkewMs.Load(),
		ActiveConnections: m.activeConnections.Load(),
		Halted:            m.halted.Load() == 1,
		Timestamp:         time.Now(),
	}
}
