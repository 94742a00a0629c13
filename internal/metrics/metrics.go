// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/operato/workflow-engine/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	runsTotalCounter            *prometheus.CounterVec
	stepsTotalCounter           *prometheus.CounterVec
	triggerEvaluationsCounter   *prometheus.CounterVec
	triggerMatchesCounter       *prometheus.CounterVec
	approvalDecisionsCounter    *prometheus.CounterVec
	stepExecutionDurationMetric prometheus.Histogram
	schedulerSweepMetric        prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		runsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_runs_total",
				Help: "Total number of workflow run status transitions by status.",
			},
			[]string{"status"},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_steps_total",
				Help: "Total number of step execution status transitions by status.",
			},
			[]string{"status"},
		)

		triggerEvaluationsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_trigger_evaluations_total",
				Help: "Total number of definition evaluations per event type.",
			},
			[]string{"event_type"},
		)

		triggerMatchesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_trigger_matches_total",
				Help: "Total number of definitions matched per event type.",
			},
			[]string{"event_type"},
		)

		approvalDecisionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_approval_decisions_total",
				Help: "Total number of approval decisions by outcome.",
			},
			[]string{"decision"},
		)

		stepExecutionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "workflow_step_execution_duration_seconds",
				Help:    "Duration of step executor calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		schedulerSweepMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "workflow_scheduler_sweep_duration_seconds",
				Help:    "Duration of delay-scheduler sweeps in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			runsTotalCounter,
			stepsTotalCounter,
			triggerEvaluationsCounter,
			triggerMatchesCounter,
			approvalDecisionsCounter,
			stepExecutionDurationMetric,
			schedulerSweepMetric,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.RunStatus{
			domain.RunRunning,
			domain.RunCompleted,
			domain.RunFailed,
			domain.RunCancelled,
		} {
			runsTotalCounter.WithLabelValues(string(status))
		}

		for _, status := range []domain.StepStatus{
			domain.StepPending,
			domain.StepRunning,
			domain.StepCompleted,
			domain.StepFailed,
			domain.StepWaitingApproval,
			domain.StepWaitingCallback,
			domain.StepWaitingDelay,
		} {
			stepsTotalCounter.WithLabelValues(string(status))
		}

		for _, decision := range []domain.ApprovalStatus{
			domain.ApprovalApproved,
			domain.ApprovalRejected,
		} {
			approvalDecisionsCounter.WithLabelValues(string(decision))
		}
	})
}

func IncRunStatus(status string) {
	Init()
	runsTotalCounter.WithLabelValues(status).Inc()
}

func IncStepStatus(status string) {
	Init()
	stepsTotalCounter.WithLabelValues(status).Inc()
}

func IncTriggerEvaluation(eventType string) {
	Init()
	triggerEvaluationsCounter.WithLabelValues(eventType).Inc()
}

func IncTriggerMatch(eventType string) {
	Init()
	triggerMatchesCounter.WithLabelValues(eventType).Inc()
}

func IncApprovalDecision(decision string) {
	Init()
	approvalDecisionsCounter.WithLabelValues(decision).Inc()
}

func ObserveStepExecutionDuration(d time.Duration) {
	Init()
	stepExecutionDurationMetric.Observe(d.Seconds())
}

func ObserveSchedulerSweep(d time.Duration) {
	Init()
	schedulerSweepMetric.Observe(d.Seconds())
}
