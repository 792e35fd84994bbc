package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	registry      *prom.Registry
	stageDuration *prom.HistogramVec
	taskResults   *prom.CounterVec
	buildOutcome  *prom.CounterVec
	llmCalls      *prom.CounterVec
	patchResults  *prom.CounterVec
	queueDepth    prom.Gauge
}

// NewPrometheusRecorder constructs and registers the fixbot metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "fixbot",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fixbot",
			Name:      "task_results_total",
			Help:      "Task results by type and outcome",
		}, []string{"type", "result"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fixbot",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.llmCalls = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fixbot",
			Name:      "llm_calls_total",
			Help:      "LLM completion calls by result",
		}, []string{"result"})
		pr.patchResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fixbot",
			Name:      "patches_total",
			Help:      "Patch applications by result",
		}, []string{"result"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "fixbot",
			Name:      "task_queue_depth",
			Help:      "Pending plus processing tasks",
		})
		reg.MustRegister(pr.stageDuration, pr.taskResults, pr.buildOutcome,
			pr.llmCalls, pr.patchResults, pr.queueDepth)
	})
	return pr
}

// Handler exposes the registry for the /metrics endpoint.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(taskType string, result ResultLabel) {
	if p == nil || p.taskResults == nil {
		return
	}
	p.taskResults.WithLabelValues(taskType, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncLLMCall(success bool) {
	if p == nil || p.llmCalls == nil {
		return
	}
	p.llmCalls.WithLabelValues(boolLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncPatchApplied(success bool) {
	if p == nil || p.patchResults == nil {
		return
	}
	p.patchResults.WithLabelValues(boolLabel(success)).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func boolLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
