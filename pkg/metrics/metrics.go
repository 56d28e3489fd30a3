// Package metrics holds the Prometheus collectors shared by the graph
// services. Collectors register with the default registry, which the HTTP
// server exposes at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuilderUnits counts committed builder units by phase and result.
	BuilderUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinship_builder_units_total",
		Help: "Builder units processed by phase and result",
	}, []string{"phase", "result"})

	// BuilderContributions counts edge contributions written by the builder.
	BuilderContributions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kinship_builder_contributions_total",
		Help: "Edge contributions written by the graph builder",
	})

	// BuilderCommitRetries counts retried unit commits.
	BuilderCommitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kinship_builder_commit_retries_total",
		Help: "Unit commits retried after a transient store error",
	})

	// GenerationsPublished counts generation swaps.
	GenerationsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kinship_generations_published_total",
		Help: "Graph generations made active",
	})

	// CacheRequests counts cache lookups by result (hit, miss, error).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinship_cache_requests_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	// CacheErrors counts backend failures by operation.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinship_cache_errors_total",
		Help: "Cache backend errors by operation",
	}, []string{"operation"})

	// RequestDuration tracks interactive operation latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kinship_request_duration_seconds",
		Help:    "Interactive operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"operation"})

	// RunDuration tracks background computation runtime.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kinship_run_duration_seconds",
		Help:    "Background run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"kind"})
)
