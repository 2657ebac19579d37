package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Graph API client
	GraphRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_api_requests_total",
			Help: "Graph API call attempts by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	GraphRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_api_retries_total",
			Help: "Graph API retries by reason",
		},
		[]string{"reason"}, // "network", "server_error", "throttled", "auth"
	)

	GraphRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graph_api_request_duration_seconds",
			Help:    "Duration of single Graph API attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	GraphPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graph_api_pages_total",
			Help: "Pages consumed from paginated Graph API responses",
		},
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graph_api_rate_limit_rejections_total",
			Help: "Calls rejected because rate-limit admission exceeded the maximum wait",
		},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "graph_api_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Credential lifecycle
	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_refreshes_total",
			Help: "Long-lived token refresh attempts by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	CredentialExpiry = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credential_expiry_timestamp_seconds",
			Help: "Unix time at which the held access token expires",
		},
	)

	// Normalizer
	NormalizerDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalizer_dropped_total",
			Help: "Records or points dropped during normalization by reason",
		},
		[]string{"reason"},
	)

	// Engine
	TopPostsTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "top_posts_truncated_total",
			Help: "Top-posts rankings built before the media listing reached the time range cutoff",
		},
	)

	// HTTP API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)
