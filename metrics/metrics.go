package metrics

import "time"

// Metric names emitted by the orchestrator.
const (
	StageCompleted  = "stage_completed"
	StageFailed     = "stage_failed"
	IntentsCreated  = "intents_created"
	IntentsTerminal = "intents_terminal"
	TransportSwap   = "transport_swap"

	OpQuote    = "quote"
	OpSimulate = "simulate"
	OpTrack    = "track"
	OpApproval = "approval"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
	SetGauge(name string, value float64)
}
