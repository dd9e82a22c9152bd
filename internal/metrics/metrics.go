package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifications_dispatched_total",
			Help: "Dispatch attempts by channel, provider and outcome",
		},
		[]string{"channel", "provider", "outcome"},
	)

	ProviderSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_provider_send_duration_seconds",
			Help:    "Provider send call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
		},
		[]string{"provider", "status"},
	)

	CallbacksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_callbacks_processed_total",
			Help: "Provider callbacks by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	SafetyCircuitTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_bounce_rate_circuit_total",
			Help: "Bounce-rate warnings and suspensions",
		},
		[]string{"action"}, // warning, suspended
	)

	RateWindowErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_rate_window_backend_errors_total",
			Help: "Rate window operations that hit a backend error",
		},
		[]string{"operation"},
	)

	APIRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_api_rate_limited_total",
			Help: "API requests rejected by the per-service rate limit",
		},
	)

	SlowQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_db_slow_queries_total",
			Help: "SQL statements slower than the configured threshold",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "status"},
	)
)

func RecordDispatch(channel, provider, outcome string) {
	NotificationsDispatched.WithLabelValues(channel, provider, outcome).Inc()
}

func RecordProviderSend(provider, status string, d time.Duration) {
	ProviderSendDuration.WithLabelValues(provider, status).Observe(d.Seconds())
}

func RecordCallback(provider, outcome string) {
	CallbacksProcessed.WithLabelValues(provider, outcome).Inc()
}

func RecordCircuitTrip(action string) {
	SafetyCircuitTrips.WithLabelValues(action).Inc()
}

func RecordRateWindowError(operation string) {
	RateWindowErrors.WithLabelValues(operation).Inc()
}

func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
