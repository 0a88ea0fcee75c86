// Package metrics holds the Prometheus collectors shared by the API and the
// collector library.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_ingested_events_total",
			Help: "Events received on the ingestion endpoint by type and result",
		},
		[]string{"type", "result"}, // result: stored, duplicate, rejected, failed
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsetrack_query_duration_seconds",
			Help:    "Duration of store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_http_requests_total",
			Help: "HTTP requests served by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsetrack_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	CollectorDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_collector_deliveries_total",
			Help: "Collector delivery attempts by flush mode and result",
		},
		[]string{"mode", "result"}, // result: delivered, requeued
	)

	CollectorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_collector_queue_depth",
			Help: "Events currently waiting in the collector queue",
		},
	)

	CollectorDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_collector_dropped_events_total",
			Help: "Events discarded because the collector queue hit its bound",
		},
	)

	CollectorCorruptSlots = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_collector_corrupt_queue_slots_total",
			Help: "Unreadable collector queue slots moved to the backup slot",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulsetrack_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	RollupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_rollup_runs_total",
			Help: "Daily rollup computations by result",
		},
		[]string{"result"},
	)
)

// ObserveQuery records the time spent in a named store query.
func ObserveQuery(query string, start time.Time) {
	QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}
