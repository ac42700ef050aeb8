package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	EntitlementChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_checks_total",
			Help: "Entitlement checks by outcome (grace status or rejection reason).",
		},
		[]string{"result"},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeats_total",
			Help: "Heartbeats by result.",
		},
		[]string{"result"},
	)

	DeviceMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeat_device_mismatch_total",
			Help: "Heartbeats whose device id differs from the bound one.",
		},
	)

	CommandsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_commands_enqueued_total",
			Help: "Commands enqueued by type.",
		},
		[]string{"type"},
	)

	CommandsClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "device_commands_claimed_total",
			Help: "Commands handed to devices.",
		},
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "error_reports_total",
			Help: "Error report submissions by outcome.",
		},
		[]string{"outcome"},
	)

	RateCountersPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_counters_pruned_total",
			Help: "Rate limit counter rows removed by the janitor.",
		},
	)

	OperatorAuthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operator_authentication_attempts_total",
			Help: "Operator bearer token checks by result.",
		},
		[]string{"result"},
	)

	PushNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operator_push_notifications_total",
			Help: "Operator push notifications by result.",
		},
		[]string{"result"},
	)
)

// MustRegister registers every collector with the default registry, each
// labelled with the service name. Call once at startup.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		EntitlementChecksTotal,
		HeartbeatsTotal,
		DeviceMismatchTotal,
		CommandsEnqueuedTotal,
		CommandsClaimedTotal,
		ReportsTotal,
		RateCountersPrunedTotal,
		OperatorAuthTotal,
		PushNotificationsTotal,
	)
}
