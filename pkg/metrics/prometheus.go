package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	fetchSeconds *prometheus.HistogramVec
	errorsTotal  *prometheus.CounterVec
	ticksTotal   *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		cacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_cache_hits_total",
				Help: "Total number of market data cache hits",
			},
			[]string{"kind"},
		),
		cacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_cache_misses_total",
				Help: "Total number of market data cache misses",
			},
			[]string{"kind"},
		),
		fetchSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketlens_fetch_duration_seconds",
				Help:    "Duration of upstream fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_ticks_total",
				Help: "Total number of live ticks received",
			},
			[]string{"symbol"},
		),
		reconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_stream_reconnects_total",
				Help: "Total number of live stream reconnect attempts",
			},
			[]string{"symbol"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketlens_last_price",
				Help: "Last streamed price for a symbol",
			},
			[]string{"symbol"},
		),
	}
}

// RecordCacheHit records a cache hit for a data kind.
func (r *Recorder) RecordCacheHit(kind string) {
	r.cacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a cache miss for a data kind.
func (r *Recorder) RecordCacheMiss(kind string) {
	r.cacheMisses.WithLabelValues(kind).Inc()
}

// RecordFetch records upstream fetch latency in seconds.
func (r *Recorder) RecordFetch(kind string, seconds float64) {
	r.fetchSeconds.WithLabelValues(kind).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordTick records a live tick for a symbol.
func (r *Recorder) RecordTick(symbol string) {
	r.ticksTotal.WithLabelValues(symbol).Inc()
}

// RecordReconnect records a live stream reconnect attempt.
func (r *Recorder) RecordReconnect(symbol string) {
	r.reconnects.WithLabelValues(symbol).Inc()
}

// RecordLastPrice records the last streamed price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}
