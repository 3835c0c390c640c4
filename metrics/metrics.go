// Package metrics exposes Prometheus instrumentation for the feed service.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SourceFetches *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	CacheLookups *prometheus.CounterVec

	Refills        *prometheus.CounterVec
	Recycles       prometheus.Counter
	BatchesServed  *prometheus.CounterVec
	BatchSize      prometheus.Histogram
	PaddedItems    prometheus.Counter
	ActiveSessions prometheus.Gauge
}

// NewCollector creates a collector with its own registry under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Source page fetches by outcome",
		}, []string{"source", "result"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Source page fetch duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_cache_lookups_total",
			Help:      "Source cache lookups by outcome (hit, stale, miss)",
		}, []string{"source", "outcome"}),
		Refills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_refills_total",
			Help:      "Pool refills by mode (blocking, background)",
		}, []string{"mode"}),
		Recycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_recycles_total",
			Help:      "Times a session pool was rebuilt from seen history",
		}),
		BatchesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_served_total",
			Help:      "Batches served by mode (assembled, filtered)",
		}, []string{"mode"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_items",
			Help:      "Items per served batch",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		}),
		PaddedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "padded_items_total",
			Help:      "Items added by padding or duplication",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests, c.HTTPDuration,
		c.SourceFetches, c.FetchDuration,
		c.CacheLookups,
		c.Refills, c.Recycles, c.BatchesServed, c.BatchSize, c.PaddedItems, c.ActiveSessions,
	)
	return c
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTP records one handled request.
func (c *Collector) RecordHTTP(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordFetch records one source page fetch.
func (c *Collector) RecordFetch(source string, err error, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.SourceFetches.WithLabelValues(source, result).Inc()
	c.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordCache records a cache lookup outcome.
func (c *Collector) RecordCache(source, outcome string) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues(source, outcome).Inc()
}

// RecordRefill records a pool refill.
func (c *Collector) RecordRefill(mode string) {
	if c == nil {
		return
	}
	c.Refills.WithLabelValues(mode).Inc()
}

// RecordRecycle records a pool recycle.
func (c *Collector) RecordRecycle() {
	if c == nil {
		return
	}
	c.Recycles.Inc()
}

// RecordBatch records a served batch and how many of its items were padding.
func (c *Collector) RecordBatch(mode string, size, padded int) {
	if c == nil {
		return
	}
	c.BatchesServed.WithLabelValues(mode).Inc()
	c.BatchSize.Observe(float64(size))
	c.PaddedItems.Add(float64(padded))
}

// SetSessions records the number of live sessions.
func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.ActiveSessions.Set(float64(n))
}
