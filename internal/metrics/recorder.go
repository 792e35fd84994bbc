// Package metrics defines the observability hooks recorded by the
// orchestrator and stage handlers.
package metrics

import "time"

// ResultLabel enumerates task result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultRetried ResultLabel = "retried"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines observability hooks for task and build metrics.
// Implementations may forward to Prometheus; the NoopRecorder is the
// default when metrics are not configured.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncTaskResult(taskType string, result ResultLabel)
	IncBuildOutcome(outcome string) // completed|failed|manual_intervention_required
	IncLLMCall(success bool)
	IncPatchApplied(success bool)
	SetQueueDepth(n int)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncTaskResult(string, ResultLabel)          {}
func (NoopRecorder) IncBuildOutcome(string)                     {}
func (NoopRecorder) IncLLMCall(bool)                            {}
func (NoopRecorder) IncPatchApplied(bool)                       {}
func (NoopRecorder) SetQueueDepth(int)                          {}
