// Package metrics holds the Prometheus instruments of the daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "messenger"

// Metrics is a private registry with the instruments every component shares.
// A nil *Metrics records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	partial    *prometheus.CounterVec
	uploads    *prometheus.CounterVec
	uploaded   *prometheus.CounterVec
	feeds      *prometheus.GaugeVec
}

// New registers the instruments on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Conversation store operations by result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of conversation store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		partial: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_failures_total",
			Help:      "Multi-step operations that stopped with some steps applied.",
		}, []string{"operation"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_uploads_total",
			Help:      "Blob uploads by kind and result.",
		}, []string{"kind", "result"}),
		uploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_uploaded_bytes_total",
			Help:      "Bytes written to blob storage.",
		}, []string{"kind"}),
		feeds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_feeds",
			Help:      "Feeds currently streaming to clients.",
		}, []string{"feed"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.duration, m.partial, m.uploads, m.uploaded, m.feeds,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records one finished operation.
func (m *Metrics) Observe(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// Partial counts an operation that left some of its steps applied.
func (m *Metrics) Partial(op string) {
	if m == nil {
		return
	}
	m.partial.WithLabelValues(op).Inc()
}

// Upload records a blob upload attempt of the given kind.
func (m *Metrics) Upload(kind string, bytes int64, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(kind, result(err)).Inc()
	if err == nil && bytes > 0 {
		m.uploaded.WithLabelValues(kind).Add(float64(bytes))
	}
}

// FeedOpened tracks a feed attached to a client; the returned func detaches it.
func (m *Metrics) FeedOpened(feed string) func() {
	if m == nil {
		return func() {}
	}
	g := m.feeds.WithLabelValues(feed)
	g.Inc()
	return g.Dec
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
