package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("plan", time.Second)
	r.IncTaskResult("PLAN", ResultSuccess)
	r.IncBuildOutcome("completed")
	r.IncLLMCall(true)
	r.IncPatchApplied(false)
	r.SetQueueDepth(3)
}

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncTaskResult("CODE_FIX", ResultRetried)
	r.IncTaskResult("CODE_FIX", ResultRetried)
	r.IncBuildOutcome("completed")
	r.IncLLMCall(true)
	r.IncPatchApplied(true)
	r.SetQueueDepth(5)
	r.ObserveStageDuration("validate", 2*time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fixbot_task_results_total"])
	assert.True(t, names["fixbot_build_outcomes_total"])
	assert.True(t, names["fixbot_stage_duration_seconds"])

	assert.InDelta(t, 2.0,
		testutil.ToFloat64(r.taskResults.WithLabelValues("CODE_FIX", "retried")), 1e-9)
	assert.InDelta(t, 5.0, testutil.ToFloat64(r.queueDepth), 1e-9)
}

func TestPrometheusHandlerServes(t *testing.T) {
	r := NewPrometheusRecorder(nil)
	assert.NotNil(t, r.Handler())
}
