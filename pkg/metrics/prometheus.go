package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	priceUpdates    *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	historyRequests *prometheus.CounterVec
	historyGen      prometheus.Histogram
	wsConnections   prometheus.Gauge
	wsMessagesSent  *prometheus.CounterVec
	wsDropped       prometheus.Counter
	handlerPanics   prometheus.Counter
	sinkPublished   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New creates a recorder on the default Prometheus registerer.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registering its collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		priceUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_price_updates_total",
				Help: "Total number of simulated price updates",
			},
			[]string{"symbol"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_last_price",
				Help: "Last simulated price for a symbol",
			},
			[]string{"symbol"},
		),
		historyRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_history_cache_requests_total",
				Help: "History cache lookups by result",
			},
			[]string{"result"},
		),
		historyGen: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketpulse_history_generation_seconds",
				Help:    "Time spent generating a historical series",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
		wsConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_ws_connections",
				Help: "Currently open websocket connections",
			},
		),
		wsMessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_ws_messages_sent_total",
				Help: "Websocket messages queued to clients by type",
			},
			[]string{"type"},
		),
		wsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpulse_ws_dropped_total",
				Help: "Price updates dropped because a client send buffer was full",
			},
		),
		handlerPanics: f.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpulse_bus_handler_panics_total",
				Help: "Update bus handlers that panicked during delivery",
			},
		),
		sinkPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_sink_messages_total",
				Help: "Price updates forwarded to outbound sinks",
			},
			[]string{"sink", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPriceUpdate counts an update and stores it as the last price.
func (r *Recorder) RecordPriceUpdate(symbol string, price float64) {
	r.priceUpdates.WithLabelValues(symbol).Inc()
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordHistoryRequest(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.historyRequests.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordHistoryGeneration(seconds float64) {
	r.historyGen.Observe(seconds)
}

func (r *Recorder) RecordConnectionOpened() { r.wsConnections.Inc() }
func (r *Recorder) RecordConnectionClosed() { r.wsConnections.Dec() }

func (r *Recorder) RecordMessageSent(kind string) {
	r.wsMessagesSent.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordMessageDropped() { r.wsDropped.Inc() }
func (r *Recorder) RecordHandlerPanic() { r.handlerPanics.Inc() }

// RecordSinkPublished records an update forwarded to a sink.
func (r *Recorder) RecordSinkPublished(sink, symbol string) {
	r.sinkPublished.WithLabelValues(sink, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordPriceUpdate(string, float64) {}
func (Nop) RecordHistoryRequest(bool) {}
func (Nop) RecordHistoryGeneration(float64) {}
func (Nop) RecordConnectionOpened() {}
func (Nop) RecordConnectionClosed() {}
func (Nop) RecordMessageSent(string) {}
func (Nop) RecordMessageDropped() {}
func (Nop) RecordHandlerPanic() {}
func (Nop) RecordSinkPublished(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
