// Package metrics exposes Prometheus collectors for the workflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parlance_build_info",
			Help: "Build information of the Parlance workflow engine",
		},
		[]string{"version", "commit", "date"},
	)

	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parlance_sessions_started_total",
			Help: "Total number of workflow sessions started",
		},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlance_sessions_finished_total",
			Help: "Total number of workflow sessions reaching a terminal or paused state",
		},
		[]string{"outcome"},
	)

	CorrectionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlance_corrections_applied_total",
			Help: "Total number of user corrections applied on resume",
		},
		[]string{"kind"},
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlance_llm_calls_total",
			Help: "Total number of LLM calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlance_llm_retries_total",
			Help: "Total number of LLM call retries by error class",
		},
		[]string{"class"},
	)

	StatementAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parlance_statement_attempts_total",
			Help: "Total number of statement validation/execution attempts by result",
		},
		[]string{"result"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parlance_workflow_duration_seconds",
			Help:    "End-to-end workflow duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parlance_sessions_swept_total",
			Help: "Total number of expired sessions removed by retention sweeps",
		},
	)
)
