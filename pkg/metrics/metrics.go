package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsProcessed counts action outcomes by status (queued|completed|rejected|failed).
	ActionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletop_actions_total",
			Help: "Total number of submitted actions by outcome",
		},
		[]string{"status"},
	)

	// ActionQueueDepth tracks actions waiting for the game master across all sessions.
	ActionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabletop_action_queue_depth",
			Help: "Number of actions queued while the game master is unreachable",
		},
	)

	// QueueRejections counts submissions refused because the action queue was full.
	QueueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletop_queue_rejections_total",
			Help: "Total number of actions rejected because the queue was full",
		},
	)

	// QueuedActionsEvicted counts queued actions dropped after expiring.
	QueuedActionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletop_queued_actions_evicted_total",
			Help: "Total number of queued actions evicted after their expiry",
		},
	)

	// ReplayedActions counts queued actions replayed after the game master reconnected.
	ReplayedActions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletop_replayed_actions_total",
			Help: "Total number of queued actions replayed on reconnection",
		},
	)

	// ConnectedParticipants tracks connected participants across all sessions.
	ConnectedParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabletop_connected_participants",
			Help: "Number of participants connected to live sessions",
		},
	)

	// LeaderTransitions counts game master liveness transitions by resulting status.
	LeaderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletop_leader_transitions_total",
			Help: "Total number of game master connection status transitions",
		},
		[]string{"status"},
	)

	// BroadcastFailures counts transport deliveries that failed and were dropped.
	BroadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletop_broadcast_failures_total",
			Help: "Total number of failed realtime deliveries",
		},
		[]string{"kind"},
	)

	// ActiveSessions tracks live sessions owned by the session manager.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabletop_active_sessions",
			Help: "Number of live game sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabletop_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPInFlight tracks HTTP requests currently being served.
	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabletop_http_in_flight_requests",
			Help: "Number of HTTP requests being served",
		},
	)

	// WebsocketUpgrades counts session websocket handshakes by response status.
	WebsocketUpgrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletop_websocket_upgrades_total",
			Help: "Total number of websocket upgrade attempts",
		},
		[]string{"status"},
	)
)
