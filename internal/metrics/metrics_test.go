package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gathered(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestTickMetrics(t *testing.T) {
	TicksTotal.WithLabelValues("manual", "completed").Inc()
	TickDuration.Observe(1.5)
	TickInFlight.Set(0)
	TicksSkipped.WithLabelValues("in_progress").Inc()
	QuotaTripped.Set(1)

	names := gathered(t)
	for _, name := range []string{
		"hq_ticks_total",
		"hq_tick_duration_seconds",
		"hq_tick_in_flight",
		"hq_ticks_skipped_total",
		"hq_quota_tripped",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestTaskAndSpendMetrics(t *testing.T) {
	TasksDispatched.WithLabelValues("GROWTH-01").Inc()
	TasksCompleted.WithLabelValues("marketing").Inc()
	TasksFailed.WithLabelValues("analysis", "rate_limited").Inc()
	TaskDuration.WithLabelValues("GROWTH-01").Observe(3)
	TasksGenerated.WithLabelValues("generation").Add(4)
	QueueDepth.WithLabelValues("pending").Set(7)
	SpendDollars.WithLabelValues("ARCHITECT-01").Add(0.42)
	TokensUsed.WithLabelValues("claude-sonnet-4").Add(1200)
	BudgetUsedPercent.Set(12.5)
	WorkerHealth.WithLabelValues("GROWTH-01").Set(90)
	HealRepairs.WithLabelValues("stale_task").Inc()
	AdmissionDenied.WithLabelValues("health").Inc()
	ProviderBreakerState.WithLabelValues("anthropic").Set(2)

	names := gathered(t)
	for _, name := range []string{
		"hq_tasks_dispatched_total",
		"hq_tasks_completed_total",
		"hq_tasks_failed_total",
		"hq_task_duration_seconds",
		"hq_tasks_generated_total",
		"hq_queue_depth",
		"hq_spend_dollars_total",
		"hq_tokens_total",
		"hq_budget_used_percent",
		"hq_worker_health_score",
		"hq_heal_repairs_total",
		"hq_admission_denied_total",
		"hq_provider_breaker_state",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
