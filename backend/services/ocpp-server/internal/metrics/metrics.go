package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outbound call outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeRejected     = "rejected"
	OutcomeTimeout      = "timeout"
	OutcomeDisconnected = "disconnected"
	OutcomeRemoteError  = "remote_error"
	OutcomeResult       = "result"
	OutcomeError        = "error"
)

var connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "ocpp",
	Name:      "charge_points_connected",
	Help:      "Number of charge points with a live connection.",
})

var inboundCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "inbound_calls_total",
	Help:      "Calls received from charge points by action and outcome.",
}, []string{"action", "outcome"})

var outboundCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "outbound_calls_total",
	Help:      "Calls sent to charge points by action and outcome.",
}, []string{"action", "outcome"})

var remoteCommands = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "remote_commands_total",
	Help:      "Operator commands by action and device decision.",
}, []string{"action", "outcome"})

var livenessEvictions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "liveness_evictions_total",
	Help:      "Connections closed because heartbeats stopped.",
})

var malformedFrames = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "malformed_frames_total",
	Help:      "Frames that could not be decoded.",
})

var unmatchedResponses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "unmatched_responses_total",
	Help:      "CallResult or CallError frames without a pending call.",
})

func SetConnected(count int) {
	connectedGauge.Set(float64(count))
}

func ObserveInbound(action, outcome string) {
	if len(action) == 0 {
		return
	}
	inboundCalls.With(prometheus.Labels{"action": action, "outcome": outcome}).Inc()
}

func ObserveOutbound(action, outcome string) {
	if len(action) == 0 {
		return
	}
	outboundCalls.With(prometheus.Labels{"action": action, "outcome": outcome}).Inc()
}

// ObserveCommand records whether the device accepted a remote command.
func ObserveCommand(action string, accepted bool) {
	outcome := OutcomeRejected
	if accepted {
		outcome = OutcomeAccepted
	}
	remoteCommands.With(prometheus.Labels{"action": action, "outcome": outcome}).Inc()
}

func CountEviction() {
	livenessEvictions.Inc()
}

func CountMalformed() {
	malformedFrames.Inc()
}

func CountUnmatched() {
	unmatchedResponses.Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
