// Package metrics exposes Prometheus instrumentation for the vigil server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_sessions_active",
			Help: "Number of live monitored sessions",
		},
	)

	AlertsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alerts_raised_total",
			Help: "Total number of alerts raised across all sessions",
		},
	)

	// Event metrics
	EventsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_events_applied_total",
			Help: "Total number of signal events applied to fusion engines",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_dropped_total",
			Help: "Total number of signal events dropped",
		},
		[]string{"reason"},
	)

	SequenceGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_sequence_gaps_total",
			Help: "Sequence numbers skipped as lost after the reordering window expired",
		},
	)

	UnrecognizedSignals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_unrecognized_signals_total",
			Help: "Events dropped because their signal type is unknown",
		},
	)

	// Transport metrics
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_transport_connections_total",
			Help: "Total websocket connections accepted",
		},
		[]string{"kind"},
	)

	Resyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_transport_resyncs_total",
			Help: "Resync handshakes completed after reconnection",
		},
	)

	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_broadcasts_dropped_total",
			Help: "Score broadcasts dropped under observer backpressure",
		},
	)
)
