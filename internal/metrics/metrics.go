package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TTL and existence cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_expirations_total",
			Help: "Total number of entries evicted on read because their TTL elapsed",
		},
		[]string{"cache"},
	)

	CacheItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matchcache_items",
			Help: "Current number of items held by a cache",
		},
		[]string{"cache"},
	)

	// Tiered cache metrics
	TierHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_tier_hits_total",
			Help: "Total number of tiered cache hits by tier",
		},
		[]string{"tier"}, // tier: memory, persistent
	)

	TierPromotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchcache_tier_promotions_total",
			Help: "Total number of values promoted from the persistent tier into memory",
		},
	)

	PersistentWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_persistent_write_failures_total",
			Help: "Total number of swallowed persistent tier write failures",
		},
		[]string{"reason"}, // reason: quota, unavailable, encode, other
	)

	PersistentReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_persistent_read_failures_total",
			Help: "Total number of persistent tier reads treated as a miss",
		},
		[]string{"reason"}, // reason: decode, store
	)

	// Remote document store metrics
	RemoteFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_remote_fetches_total",
			Help: "Total number of remote document lookups",
		},
		[]string{"outcome"}, // outcome: present, absent, error
	)

	RemoteFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchcache_remote_fetch_duration_seconds",
			Help:    "Duration of remote document lookups in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	RemoteHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_remote_http_requests_total",
			Help: "Total number of HTTP requests made to the remote document store",
		},
		[]string{"status"}, // status: success, retry, error
	)

	RemoteHTTPRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchcache_remote_http_retries_total",
			Help: "Total number of HTTP request retries",
		},
	)

	RemoteRetryAfterWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchcache_remote_retry_after_wait_seconds",
			Help:    "Duration of Retry-After waits in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	RemoteRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchcache_remote_rate_limit_waits_total",
			Help: "Total number of times a remote lookup waited for the rate limiter",
		},
	)

	// Resolver metrics
	ResolverDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_resolver_documents_total",
			Help: "Documents resolved by source",
		},
		[]string{"source"}, // source: cache, remote, stale, absent
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// API request metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Metrics collection error tracking
	MetricsCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_collection_errors_total",
			Help: "Total number of errors during metrics collection",
		},
		[]string{"collector"},
	)

	// Background tasks
	ScheduledTaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchcache_scheduled_task_runs_total",
			Help: "Scheduled task runs by task and result",
		},
		[]string{"task", "result"},
	)
)
