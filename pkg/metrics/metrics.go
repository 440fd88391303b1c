package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Total number of rule evaluations by outcome (count)",
		},
		[]string{"outcome"},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rule_evaluation_duration_ms",
			Help:    "Rule evaluation duration in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"outcome"},
	)

	TriggerMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_trigger_matches_total",
			Help: "Total number of trigger matches by trigger kind (count)",
		},
		[]string{"kind"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_rules",
			Help: "Number of loaded transformation rules across tenants (count)",
		},
	)

	TransformRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transform_requests_total",
			Help: "Total number of transformation requests by status (count)",
		},
		[]string{"status"},
	)

	TransformDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transform_duration_ms",
			Help:    "Downstream transformation duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total number of cache operations by tier and result (count)",
		},
		[]string{"operation", "tier", "result"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limits (count)",
		},
		[]string{"limiter", "status"},
	)

	RateLimitFailOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_fail_open_total",
			Help: "Total number of requests admitted because the limiter store was unavailable (count)",
		},
		[]string{"limiter"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published by scope (count)",
		},
		[]string{"scope"},
	)

	EventsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_delivered_total",
			Help: "Total number of event deliveries to subscribers by result (count)",
		},
		[]string{"result"},
	)

	RelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of broker relay messages by direction (count)",
		},
		[]string{"direction"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Number of active WebSocket connections (count)",
		},
	)

	TrackedPresence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_tracked_users",
			Help: "Number of users with a tracked presence record (count)",
		},
	)

	ChannelCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_channels",
			Help: "Number of registered channels (count)",
		},
	)
)

func RegisterEngineMetrics() {
	prometheus.MustRegister(
		EvaluationsTotal,
		EvaluationDuration,
		TriggerMatchesTotal,
		ActiveRules,
		TransformRequestsTotal,
		TransformDuration,
		CacheOperationsTotal,
	)
}

func RegisterRealtimeMetrics() {
	prometheus.MustRegister(
		EventsPublishedTotal,
		EventsDeliveredTotal,
		RelayMessagesTotal,
		ActiveConnections,
		TrackedPresence,
		ChannelCount,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func RegisterRateLimitMetrics() {
	prometheus.MustRegister(
		RateLimitRequestsTotal,
		RateLimitFailOpenTotal,
	)
}

func ObserveEvaluationDuration(d time.Duration, outcome string) {
	EvaluationDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

func ObserveTransformDuration(d time.Duration, status string) {
	TransformDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}
