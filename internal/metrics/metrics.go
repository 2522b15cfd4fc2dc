// Package metrics provides the Prometheus instruments of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hq"

// ─── Ticks ──────────────────────────────────────────────────────────────────

// TicksTotal counts finalized ticks by trigger and final status.
var TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "ticks_total",
	Help:      "Total finalized ticks.",
}, []string{"trigger", "status"})

// TickDuration tracks tick wall time in seconds.
var TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "tick_duration_seconds",
	Help:      "Tick duration in seconds.",
	Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
})

// TickInFlight is 1 while a tick runs.
var TickInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "tick_in_flight",
	Help:      "1 while a tick is running.",
})

// TicksSkipped counts tick requests that did not run, by reason.
var TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "ticks_skipped_total",
	Help:      "Tick requests refused or suppressed.",
}, []string{"reason"})

// QuotaTripped is 1 while scheduled ticks are suppressed after a quota trip.
var QuotaTripped = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "quota_tripped",
	Help:      "1 while scheduled ticks are suppressed by the quota guard.",
})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksDispatched counts dispatches per worker.
var TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_dispatched_total",
	Help:      "Tasks handed to a worker.",
}, []string{"worker"})

// TasksCompleted counts successful executions by task type.
var TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_completed_total",
	Help:      "Total completed tasks.",
}, []string{"type"})

// TasksFailed counts failed executions by task type and reason.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_failed_total",
	Help:      "Total failed executions.",
}, []string{"type", "reason"})

// TaskDuration tracks provider execution time per worker.
var TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "task_duration_seconds",
	Help:      "Execution time of a dispatched task.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"worker"})

// TasksGenerated counts tasks the engine created on its own, by source.
var TasksGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_generated_total",
	Help:      "Tasks created by generation, strategy or chaining.",
}, []string{"source"})

// QueueDepth is the number of tasks per status at the last snapshot.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "queue_depth",
	Help:      "Tasks per status at the last snapshot.",
}, []string{"status"})

// ─── Spend ──────────────────────────────────────────────────────────────────

// SpendDollars accumulates provider spend per worker.
var SpendDollars = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "spend_dollars_total",
	Help:      "Provider spend in dollars.",
}, []string{"worker"})

// TokensUsed accumulates provider units per model.
var TokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tokens_total",
	Help:      "Provider input plus output units.",
}, []string{"model"})

// BudgetUsedPercent is today's global spend as a percentage of the limit.
var BudgetUsedPercent = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "budget_used_percent",
	Help:      "Global daily spend as a percentage of the limit.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// WorkerHealth is the 0-100 health score per worker.
var WorkerHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "worker_health_score",
	Help:      "Worker health score (0-100).",
}, []string{"worker"})

// HealRepairs counts auto-heal repairs by kind.
var HealRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "heal_repairs_total",
	Help:      "Auto-heal repairs.",
}, []string{"kind"})

// AdmissionDenied counts dispatches skipped by admission control.
var AdmissionDenied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "admission_denied_total",
	Help:      "Dispatches skipped by budget or health admission.",
}, []string{"gate"})

// ─── Providers ──────────────────────────────────────────────────────────────

// ProviderBreakerState is the circuit breaker state per provider route:
// 0 closed, 1 half-open, 2 open.
var ProviderBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "provider_breaker_state",
	Help:      "Circuit breaker state per provider route (0 closed, 1 half-open, 2 open).",
}, []string{"route"})
