// Package metrics exposes Prometheus counters/gauges for the streaming
// connection's lifecycle: dials, reconnects, frames, and heartbeats.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================================
// Connection Metrics
// ============================================================================

var (
	// ConnectsTotal counts successful transport.Dial calls.
	ConnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvfeed_connects_total",
			Help: "Total number of successful WebSocket connections opened.",
		},
	)

	// ReconnectsTotal counts reconnect attempts, labeled by outcome.
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvfeed_reconnects_total",
			Help: "Total number of reconnect attempts made by the recovery state machine.",
		},
		[]string{"outcome"}, // "success" | "failure"
	)

	// ConnectionState reports 1 while a client holds a live socket, 0
	// otherwise.
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvfeed_connection_state",
			Help: "1 if the client's transport is currently open, 0 otherwise.",
		},
	)
)

// ============================================================================
// Frame Metrics
// ============================================================================

var (
	// FramesReceivedTotal counts raw inbound text frames read off the socket.
	FramesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvfeed_frames_received_total",
			Help: "Total number of raw WebSocket text frames received.",
		},
	)

	// SegmentsDecodeFailedTotal counts per-segment JSON parse failures
	// absorbed by the dispatcher (never terminal).
	SegmentsDecodeFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvfeed_segments_decode_failed_total",
			Help: "Total number of frame segments that failed to parse.",
		},
	)

	// EventsEmittedTotal counts typed events pushed to the event plane,
	// labeled by event kind name.
	EventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvfeed_events_emitted_total",
			Help: "Total number of typed events emitted, by kind.",
		},
		[]string{"kind"},
	)
)

// ============================================================================
// Liveness Metrics
// ============================================================================

var (
	// HeartbeatsEchoedTotal counts numeric heartbeat frames the dispatcher
	// echoed back to the server.
	HeartbeatsEchoedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvfeed_heartbeats_echoed_total",
			Help: "Total number of protocol-level numeric heartbeats echoed.",
		},
	)

	// ErrorsTotal counts observed errors by severity.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvfeed_errors_total",
			Help: "Total number of errors observed by the recovery state machine, by severity.",
		},
		[]string{"severity"},
	)

	// ConsecutiveErrorStreak reports the recovery package's current
	// consecutive-error counter.
	ConsecutiveErrorStreak = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvfeed_consecutive_error_streak",
			Help: "Current consecutive-error streak tracked by the recovery state machine.",
		},
	)
)
