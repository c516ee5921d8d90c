// Package metrics wraps the Prometheus collectors medifind exports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records per-source, cache and search telemetry.
type Collector struct {
	registry *prometheus.Registry

	sourceResults  *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	heavyInUse     prometheus.Gauge
}

// NewCollector creates a collector registered on its own registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.sourceResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medifind",
			Subsystem: "source",
			Name:      "results_total",
			Help:      "Adapter invocations by outcome (ok, failed, timed_out)",
		},
		[]string{"source", "status"},
	)

	c.sourceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "medifind",
			Subsystem: "source",
			Name:      "duration_seconds",
			Help:      "Time spent in one adapter invocation",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~51s
		},
		[]string{"source"},
	)

	c.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medifind",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by outcome (hit, miss)",
		},
		[]string{"result"},
	)

	c.searchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "medifind",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end search latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"cached"},
	)

	c.heavyInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medifind",
		Name:      "heavy_slots_in_use",
		Help:      "Browser pool slots currently held by heavyweight adapters",
	})

	c.registry.MustRegister(
		c.sourceResults,
		c.sourceDuration,
		c.cacheLookups,
		c.searchDuration,
		c.heavyInUse,
	)
	return c
}

// Registry returns the Prometheus registry for /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordSource records one adapter outcome. status is the quote.Status string.
func (c *Collector) RecordSource(source, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.sourceResults.WithLabelValues(source, status).Inc()
	c.sourceDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordCacheLookup counts a cache hit or miss.
func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordSearch observes a complete search.
func (c *Collector) RecordSearch(d time.Duration, cached bool) {
	if c == nil {
		return
	}
	label := "false"
	if cached {
		label = "true"
	}
	c.searchDuration.WithLabelValues(label).Observe(d.Seconds())
}

// HeavySlotAcquired and HeavySlotReleased track the browser pool.
func (c *Collector) HeavySlotAcquired() {
	if c != nil {
		c.heavyInUse.Inc()
	}
}

func (c *Collector) HeavySlotReleased() {
	if c != nil {
		c.heavyInUse.Dec()
	}
}
