package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState is 1 for the engine connection state currently held, 0 otherwise
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "openpanel_engine_connection_state",
			Help: "Current engine connection state (1 for the active state)",
		},
		[]string{"state"},
	)

	// EngineMessagesTotal counts envelopes exchanged with the engine by direction and type
	EngineMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openpanel_engine_messages_total",
			Help: "Total number of messages exchanged with the engine",
		},
		[]string{"direction", "type"},
	)

	// ActiveSubscriptions tracks subscription records with a non-zero reference count
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "openpanel_subscriptions_active",
			Help: "Number of subscription records with a non-zero reference count",
		},
		[]string{"kind"},
	)

	// WireCallsTotal counts wire subscribe/unsubscribe calls issued to the engine
	WireCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openpanel_subscription_wire_calls_total",
			Help: "Total number of wire subscribe and unsubscribe calls",
		},
		[]string{"kind", "op", "status"},
	)

	// TriggersTotal counts action registry invocations by outcome
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openpanel_action_triggers_total",
			Help: "Total number of action triggers",
		},
		[]string{"kind", "outcome"},
	)

	// SequencerRunsTotal counts finished multi runs by status
	SequencerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openpanel_sequencer_runs_total",
			Help: "Total number of finished multi sequencer runs",
		},
		[]string{"status"},
	)

	// SequencerStepsTotal counts sequencer steps by outcome
	SequencerStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openpanel_sequencer_steps_total",
			Help: "Total number of sequencer steps by outcome",
		},
		[]string{"outcome"},
	)

	// SequencerRunDuration tracks the wall time of multi runs in seconds
	SequencerRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openpanel_sequencer_run_duration",
			Help:    "Duration of multi sequencer runs in seconds",
			Buckets: []float64{0.1, 1, 5, 15, 60, 300},
		},
		[]string{"status"},
	)

	// OverlapsTotal tracks the number of components currently overlapping another
	OverlapsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openpanel_layout_overlapping_components",
			Help: "Number of components overlapping at least one other component",
		},
	)
)

var connectionStates = []string{"DISCONNECTED", "CONNECTING", "CONNECTED", "ERROR"}

// SetConnectionState marks state as the only active connection state
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

func RecordEngineMessage(direction, msgType string) {
	EngineMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

func SetActiveSubscriptions(kind string, count int) {
	ActiveSubscriptions.WithLabelValues(kind).Set(float64(count))
}

func RecordWireCall(kind, op, status string) {
	WireCallsTotal.WithLabelValues(kind, op, status).Inc()
}

func RecordTrigger(kind, outcome string) {
	TriggersTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordSequencerStep(outcome string) {
	SequencerStepsTotal.WithLabelValues(outcome).Inc()
}

func RecordSequencerRun(status string, durationSeconds float64) {
	SequencerRunsTotal.WithLabelValues(status).Inc()
	SequencerRunDuration.WithLabelValues(status).Observe(durationSeconds)
}

func SetOverlapping(count int) {
	OverlapsTotal.Set(float64(count))
}
