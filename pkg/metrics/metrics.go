// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocketConnectionsActive tracks connected websocket sessions.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// MessagesTotal tracks messages appended to conversations.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages appended",
		},
		[]string{"kind"},
	)

	// OfferTransitionsTotal tracks offer creations and responses.
	OfferTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_transitions_total",
			Help: "Offer state transitions",
		},
		[]string{"status"},
	)

	// AppointmentTransitionsTotal tracks appointment state transitions.
	AppointmentTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_transitions_total",
			Help: "Appointment state transitions",
		},
		[]string{"action", "status"},
	)

	// PreconditionFailuresTotal counts rejected state-machine commands.
	PreconditionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "precondition_failures_total",
			Help: "Commands rejected by a state-machine precondition",
		},
		[]string{"code"},
	)

	// OutboxDispatchedTotal counts drained outbox events.
	OutboxDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dispatched_total",
			Help: "Outbox events drained by the dispatcher",
		},
		[]string{"topic"},
	)

	// RealtimePublishFailuresTotal counts best-effort fan-out failures.
	RealtimePublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_publish_failures_total",
			Help: "Realtime publish attempts that failed",
		},
		[]string{"broker"},
	)

	// NotificationsTotal counts persisted notifications.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications persisted",
		},
		[]string{"type"},
	)

	// OutboxDrainDuration tracks how long a drain pass takes.
	OutboxDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_drain_duration_seconds",
			Help:    "Duration of one outbox drain pass",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementWebSocketConnections increments the active websocket count.
func IncrementWebSocketConnections() {
	WebSocketConnectionsActive.Inc()
}

// DecrementWebSocketConnections decrements the active websocket count.
func DecrementWebSocketConnections() {
	WebSocketConnectionsActive.Dec()
}
