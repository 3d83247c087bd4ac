package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "musicsearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "provider_requests_total",
		Help:      "Total provider search attempts by provider name and outcome (ok, error, timeout, panic).",
	}, []string{"provider", "status"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "musicsearch",
		Name:      "provider_request_duration_seconds",
		Help:      "Provider search attempt duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"provider"})

	ProviderSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "provider_skipped_total",
		Help:      "Searches that skipped a provider because its circuit was open.",
	}, []string{"provider"})

	ProviderResultsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "provider_results_dropped_total",
		Help:      "Candidate items a provider dropped while normalizing, by reason.",
	}, []string{"provider", "reason"})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "musicsearch",
		Name:      "provider_breaker_state",
		Help:      "Circuit breaker state per provider: 0 closed, 1 half-open, 2 open.",
	}, []string{"provider"})

	SearchResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "musicsearch",
		Name:      "search_results",
		Help:      "Number of results returned per search after dedup and filters.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "cache_hits_total",
		Help:      "Total number of search cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "cache_misses_total",
		Help:      "Total number of search cache misses.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderSkippedTotal,
		ProviderResultsDropped,
		BreakerState,
		SearchResults,
		CacheHitsTotal,
		CacheMissesTotal,
	)
}
