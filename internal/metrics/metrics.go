// Package metrics exposes Prometheus instrumentation for the simulator.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Singleton collector
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all simulator metrics.
type Collector struct {
	// Order metrics
	OrdersTotal  *prometheus.CounterVec
	OrdersOpen   prometheus.Gauge
	CancelsTotal prometheus.Counter
	AmendsTotal  prometheus.Counter

	// Matching engine metrics
	MatchLatency prometheus.Histogram
	BookDepth    *prometheus.GaugeVec

	// Trade metrics
	TradesTotal prometheus.Counter
	TradeVolume prometheus.Counter
	TradeValue  prometheus.Counter

	// Market metrics
	MarketPrice    prometheus.Gauge
	LastTradePrice prometheus.Gauge

	// Account metrics
	Accounts prometheus.Gauge

	// Event bus metrics
	EventsDropped *prometheus.CounterVec

	// WebSocket metrics
	WSConnections   prometheus.Gauge
	WSMessagesTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPLatency       *prometheus.HistogramVec
}

// Get returns the singleton metrics collector.
func Get() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{}

	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "orders",
			Name:      "total",
			Help:      "Total number of orders accepted",
		},
		[]string{"side", "type", "status"},
	)

	c.OrdersOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradesim",
			Subsystem: "orders",
			Name:      "open",
			Help:      "Number of orders currently resting in the book",
		},
	)

	c.CancelsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Total number of user-cancelled orders",
		},
	)

	c.AmendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "orders",
			Name:      "amended_total",
			Help:      "Total number of amended orders",
		},
	)

	c.MatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tradesim",
			Subsystem: "matching",
			Name:      "latency_ms",
			Help:      "Matching pass latency in milliseconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	c.BookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradesim",
			Subsystem: "orderbook",
			Name:      "depth",
			Help:      "Order book depth (number of price levels)",
		},
		[]string{"side"},
	)

	c.TradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "trades",
			Name:      "total",
			Help:      "Total number of trades executed",
		},
	)

	c.TradeVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "trades",
			Name:      "volume",
			Help:      "Total traded quantity in base asset",
		},
	)

	c.TradeValue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "trades",
			Name:      "value_usd",
			Help:      "Total traded value in USD",
		},
	)

	c.MarketPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradesim",
			Subsystem: "market",
			Name:      "price",
			Help:      "Simulated reference price",
		},
	)

	c.LastTradePrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradesim",
			Subsystem: "market",
			Name:      "last_trade_price",
			Help:      "Price of the most recent book trade",
		},
	)

	c.Accounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradesim",
			Name:      "accounts",
			Help:      "Number of accounts created",
		},
	)

	c.EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Events evicted from subscriber queues under backpressure",
		},
		[]string{"type"},
	)

	c.WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradesim",
			Subsystem: "websocket",
			Name:      "connections_active",
			Help:      "Number of active WebSocket connections",
		},
	)

	c.WSMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Total WebSocket messages sent",
		},
		[]string{"type"},
	)

	c.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradesim",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total API requests",
		},
		[]string{"method", "path", "status"},
	)

	c.HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradesim",
			Subsystem: "api",
			Name:      "request_latency_ms",
			Help:      "API request latency in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"method", "path"},
	)

	c.registerAll()

	return c
}

func (c *Collector) registerAll() {
	prometheus.MustRegister(c.OrdersTotal)
	prometheus.MustRegister(c.OrdersOpen)
	prometheus.MustRegister(c.CancelsTotal)
	prometheus.MustRegister(c.AmendsTotal)

	prometheus.MustRegister(c.MatchLatency)
	prometheus.MustRegister(c.BookDepth)

	prometheus.MustRegister(c.TradesTotal)
	prometheus.MustRegister(c.TradeVolume)
	prometheus.MustRegister(c.TradeValue)

	prometheus.MustRegister(c.MarketPrice)
	prometheus.MustRegister(c.LastTradePrice)

	prometheus.MustRegister(c.Accounts)
	prometheus.MustRegister(c.EventsDropped)

	prometheus.MustRegister(c.WSConnections)
	prometheus.MustRegister(c.WSMessagesTotal)

	prometheus.MustRegister(c.HTTPRequestsTotal)
	prometheus.MustRegister(c.HTTPLatency)
}

// ============ Recording Helpers ============

// RecordOrder records an accepted order with its post-matching status.
func (c *Collector) RecordOrder(side, orderType, status string) {
	c.OrdersTotal.WithLabelValues(side, orderType, status).Inc()
}

// RecordTrade records one execution.
func (c *Collector) RecordTrade(volume, value float64) {
	c.TradesTotal.Inc()
	c.TradeVolume.Add(volume)
	c.TradeValue.Add(value)
}

// RecordMatchLatency records the duration of one matching pass.
func (c *Collector) RecordMatchLatency(latencyMs float64) {
	c.MatchLatency.Observe(latencyMs)
}

// SetBookDepth updates the per-side level counts.
func (c *Collector) SetBookDepth(bids, asks int) {
	c.BookDepth.WithLabelValues("buy").Set(float64(bids))
	c.BookDepth.WithLabelValues("sell").Set(float64(asks))
}

// RecordEventDropped records an event evicted from a subscriber queue.
func (c *Collector) RecordEventDropped(kind string) {
	c.EventsDropped.WithLabelValues(kind).Inc()
}

// RecordWSConnection tracks WebSocket connects (+1) and disconnects (-1).
func (c *Collector) RecordWSConnection(delta int) {
	c.WSConnections.Add(float64(delta))
}

// RecordWSMessage records an outbound WebSocket message.
func (c *Collector) RecordWSMessage(kind string) {
	c.WSMessagesTotal.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records a completed API request.
func (c *Collector) RecordHTTPRequest(method, path, status string, latencyMs float64) {
	c.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.HTTPLatency.WithLabelValues(method, path).Observe(latencyMs)
}

// ============ HTTP Handler ============

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for latency metrics.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ElapsedMs returns the elapsed time in milliseconds.
func (t *Timer) ElapsedMs() float64 {
	return float64(time.Since(t.start).Microseconds()) / 1000.0
}
