// Package metrics defines the Prometheus instrumentation for the live room core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Room registry metrics
var (
	// LiveActiveRooms tracks the number of rooms with at least one member
	LiveActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_active_rooms",
			Help: "Number of rooms with at least one connected participant",
		},
	)

	// LiveConnectedClients tracks total connected clients across all rooms
	LiveConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_connected_clients",
			Help: "Total number of connected WebSocket clients across all rooms",
		},
	)

	// LiveMessagesBroadcastTotal tracks messages accepted and fanned out
	LiveMessagesBroadcastTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_messages_broadcast_total",
			Help: "Total messages accepted for broadcast",
		},
	)

	// LiveDeliveriesTotal tracks per-recipient deliveries
	LiveDeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_deliveries_total",
			Help: "Total per-recipient message deliveries",
		},
	)

	// LiveDeliveryFailuresTotal tracks per-recipient delivery failures
	LiveDeliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_delivery_failures_total",
			Help: "Per-recipient delivery failures during broadcast fan-out",
		},
	)

	// LiveSlowClientsEvictedTotal tracks clients evicted for a full send buffer
	LiveSlowClientsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_slow_clients_evicted_total",
			Help: "Clients evicted because their send buffer was full",
		},
	)
)

// Gateway and keepalive metrics
var (
	// LiveIdleEvictionsTotal tracks keepalive evictions
	LiveIdleEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_idle_evictions_total",
			Help: "Connections evicted after exceeding the keepalive grace window",
		},
	)

	// LiveRateLimitRejectionsTotal tracks messages dropped by the rate limiter
	LiveRateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_rate_limit_rejections_total",
			Help: "Inbound messages rejected by the per-connection rate limiter",
		},
	)

	// LiveRateLimitEvictionsTotal tracks connections closed for repeated violations
	LiveRateLimitEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_rate_limit_evictions_total",
			Help: "Connections closed after repeated rate limit violations",
		},
	)

	// LiveOversizedMessagesTotal tracks fatal oversized frames
	LiveOversizedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_oversized_messages_total",
			Help: "Connections closed for exceeding the message size limit",
		},
	)

	// LiveAdmissionsRejectedTotal tracks rejected admissions by reason
	LiveAdmissionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_admissions_rejected_total",
			Help: "Admissions rejected before joining a room, by reason",
		},
		[]string{"reason"},
	)
)

// WebSocket transport metrics
var (
	// WebSocketConnectionsTotal tracks total connections admitted
	WebSocketConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connections admitted to a room",
		},
	)

	// WebSocketConnectionDuration tracks connection lifetimes
	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "WebSocket connection duration in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	// WebSocketMessageSendDuration tracks individual frame write latency
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// WebSocketPingFailures tracks liveness probes that could not be sent
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Keepalive probes that could not be written to the connection",
		},
	)
)

// Connection limit metrics
var (
	// ConnectionLimitRejectionsTotal tracks upgrade requests rejected by limits
	ConnectionLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_limit_rejections_total",
			Help: "Upgrade requests rejected by connection limits, by limit type",
		},
		[]string{"limit"},
	)

	// ConnectionLimitUtilization tracks global connection capacity usage
	ConnectionLimitUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connection_limit_utilization_pct",
			Help: "Global connection capacity utilization percentage",
		},
	)
)
