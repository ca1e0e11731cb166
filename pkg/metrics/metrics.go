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

	// SocketConnectionsActive tracks active realtime connections on the gateway.
	SocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "socket_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// MessagesSentTotal tracks messages accepted from clients.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total messages accepted for delivery",
		},
		[]string{"message_type"},
	)

	// MessagesDeliveredTotal tracks messages pushed to connected recipients.
	MessagesDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_delivered_total",
			Help: "Total messages pushed to connected recipients",
		},
	)

	// ReconcileTotal tracks reconciliation outcomes in the message engine.
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_reconcile_total",
			Help: "Reconciliation outcomes (replaced, merged, appended)",
		},
		[]string{"outcome"},
	)

	// UnreadMessages tracks the tracker's global unread counter.
	UnreadMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "unread_messages",
			Help: "Current global unread message count",
		},
	)

	// OnlineUsers tracks the size of the presence set.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "online_users",
			Help: "Number of users currently online",
		},
	)

	// RoomEventsTotal tracks join/leave traffic on the gateway.
	RoomEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_events_total",
			Help: "Total join and leave room events",
		},
		[]string{"event"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
