// Package metrics exposes Prometheus collectors for investigation
// throughput, LLM usage, and tool execution. Collectors register on a
// caller-supplied registry so embedding applications keep control of
// their metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the investigation core records into.
type Metrics struct {
	InvestigationsStarted   prometheus.Counter
	InvestigationsCompleted *prometheus.CounterVec // outcome: complete|error|cancelled
	InvestigationDuration   prometheus.Histogram

	PhaseDuration *prometheus.HistogramVec // phase

	LLMCalls        *prometheus.CounterVec // operation
	LLMFailures     *prometheus.CounterVec // operation
	ParseRetries    prometheus.Counter
	ToolExecutions  *prometheus.CounterVec // tool, status: ok|error
	ApprovalResults *prometheus.CounterVec // outcome

	ScratchpadEvictions prometheus.Counter
	CheckpointSaves     prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvestigationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "investigations_started_total",
			Help:      "Investigations started.",
		}),
		InvestigationsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "investigations_completed_total",
			Help:      "Investigations finished, by outcome.",
		}, []string{"outcome"}),
		InvestigationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sleuth",
			Name:      "investigation_duration_seconds",
			Help:      "Wall-clock duration of completed investigations.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sleuth",
			Name:      "phase_duration_seconds",
			Help:      "Time spent per investigation phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "llm_calls_total",
			Help:      "LLM completions issued, by operation.",
		}, []string{"operation"}),
		LLMFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "llm_failures_total",
			Help:      "LLM completions that returned an error, by operation.",
		}, []string{"operation"}),
		ParseRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "parse_retries_total",
			Help:      "Structured-output parse failures that triggered a feedback retry.",
		}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "tool_executions_total",
			Help:      "Tool executions, by tool and status.",
		}, []string{"tool", "status"}),
		ApprovalResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "approval_results_total",
			Help:      "Approval gate decisions, by outcome.",
		}, []string{"outcome"}),
		ScratchpadEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "scratchpad_evictions_total",
			Help:      "Scratchpad entries evicted by compaction.",
		}),
		CheckpointSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoints written.",
		}),
	}
	reg.MustRegister(
		m.InvestigationsStarted,
		m.InvestigationsCompleted,
		m.InvestigationDuration,
		m.PhaseDuration,
		m.LLMCalls,
		m.LLMFailures,
		m.ParseRetries,
		m.ToolExecutions,
		m.ApprovalResults,
		m.ScratchpadEvictions,
		m.CheckpointSaves,
	)
	return m
}

// ObservePhase records time spent in one phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordLLMCall counts one completion and its outcome.
func (m *Metrics) RecordLLMCall(operation string, err error) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(operation).Inc()
	if err != nil {
		m.LLMFailures.WithLabelValues(operation).Inc()
	}
}

// RecordTool counts one tool execution and its outcome.
func (m *Metrics) RecordTool(tool string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
}
