package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "discovery",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	PlacesAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "places_attempts_total",
		Help:      "Places API attempts by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	PlacesRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "discovery",
		Name:      "places_request_duration_seconds",
		Help:      "Places API attempt duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "cache_hits_total",
		Help:      "Total number of result cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "cache_misses_total",
		Help:      "Total number of result cache misses, including expired entries.",
	})

	CacheEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "cache_evictions_total",
		Help:      "Result cache entries removed by reason (expired, capacity).",
	}, []string{"reason"})

	CacheFaultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "cache_faults_total",
		Help:      "Result cache store errors by operation.",
	}, []string{"op"})

	PipelineExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "pipeline_executions_total",
		Help:      "Pipeline executions by final state.",
	}, []string{"state"})

	FavoritesDegradedWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "favorites_degraded_writes_total",
		Help:      "Favorite mutations that were applied in memory but failed to persist.",
	})

	PhotoRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "photo_requests_total",
		Help:      "Photo loads by serving tier (memory, disk, remote, coalesced, error).",
	}, []string{"tier"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PlacesAttemptsTotal,
		PlacesRequestDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		CacheFaultsTotal,
		PipelineExecutionsTotal,
		FavoritesDegradedWritesTotal,
		PhotoRequestsTotal,
	)
}
