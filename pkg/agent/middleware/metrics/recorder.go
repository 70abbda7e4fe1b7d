// Package metrics provides metrics recording for LLM operations, stage
// executions, and circuit breaker transitions.
package metrics

import "time"

// Recorder defines the interface for recording operational metrics. The
// orchestrator and the LLM middleware both write through it; implementations
// must be safe for concurrent use.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, tenant, stage string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// ObserveStage records one workflow stage execution.
	ObserveStage(stage, outcome string, duration time.Duration)

	// IncBreakerTransition counts one circuit breaker state transition.
	IncBreakerTransition(dependency, from, to string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics
// are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _, _ string, _, _ int, _ float64, _ bool, _ string, _ time.Duration) {
}

// ObserveStage does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveStage(_, _ string, _ time.Duration) {}

// IncBreakerTransition does nothing in the no-op recorder.
func (n *NoopRecorder) IncBreakerTransition(_, _, _ string) {}
