package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aristath/hq/internal/agent"
	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/budget"
	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/metrics"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// run executes the tick body. The returned error is always an
// infrastructure failure.
func (s *Scheduler) run(ctx context.Context, res *TickResult) error {
	// 1. budget gate
	st := s.checkBudget()
	res.BudgetLevel = st.Level.String()
	if st.Level == budget.LevelExceeded {
		log.Printf("scheduler: daily budget exhausted, pausing autonomous work")
		res.Actions = append(res.Actions, "Daily budget exhausted, waiting for reset")
		return nil
	}

	// 2. active workers
	workers, err := s.deps.Workers.List(ctx, true)
	if err != nil {
		return fmt.Errorf("load workers: %w", err)
	}
	if len(workers) == 0 {
		log.Printf("WARNING: scheduler: no active workers")
		res.Actions = append(res.Actions, "No active workers")
		return nil
	}

	// 3. auto-heal
	repairs, err := s.deps.Healer.AutoHeal(ctx)
	if err != nil {
		return fmt.Errorf("auto-heal: %w", err)
	}
	if len(repairs) > 0 {
		for _, r := range repairs {
			metrics.HealRepairs.WithLabelValues(string(r.Kind)).Inc()
			s.deps.Events.Publish(events.WorkerHealedEvent{
				Target:    r.Subject,
				Kind:      string(r.Kind),
				Message:   r.Message,
				Timestamp: s.now(),
			})
		}
		log.Printf("scheduler: auto-healed %d item(s)", len(repairs))
		if workers, err = s.deps.Workers.List(ctx, true); err != nil {
			return fmt.Errorf("reload workers: %w", err)
		}
	}
	res.Workers = s.workerStates(workers, st)

	// 4. executable tasks
	executable, err := s.deps.Tasks.ExecutableTasks(ctx, "", s.cfg.ScanLimit)
	if err != nil {
		return fmt.Errorf("load executable tasks: %w", err)
	}
	log.Printf("scheduler: %d executable task(s)", len(executable))

	// 5. sequential dispatch
	failures, err := s.dispatchAll(ctx, executable, workers, res)
	if err != nil {
		return err
	}

	// 6. quota guard
	if s.quota.Observe(res.Processed, res.Completed, failures) {
		res.QuotaTripped = true
		metrics.QuotaTripped.Set(1)
		res.Actions = append(res.Actions, fmt.Sprintf(
			"All %d dispatched task(s) failed, scheduled ticks paused for %s", res.Failed, s.cfg.Cooldown))
		log.Printf("WARNING: scheduler: all %d task(s) failed this tick, likely quota exhaustion", res.Failed)
	}

	// 7. refill a thin queue
	if res.Processed == 0 || len(executable) < s.cfg.ThinQueue {
		if err := s.refill(ctx, len(executable), res); err != nil {
			return err
		}
	}
	return nil
}

// checkBudget reads the budget status and publishes an alert when the
// global level changed since the last check.
func (s *Scheduler) checkBudget() budget.Status {
	st := s.deps.Budget.Status()
	metrics.BudgetUsedPercent.Set(st.Global.Percent)

	s.mu.Lock()
	changed := st.Level != s.lastLevel
	s.lastLevel = st.Level
	s.mu.Unlock()
	if changed && st.Level > budget.LevelOK {
		s.deps.Events.Publish(events.BudgetAlertEvent{
			Level:     st.Level.String(),
			Percent:   st.Global.Percent,
			Timestamp: s.now(),
		})
	}
	return st
}

func (s *Scheduler) workerStates(workers []*roster.Worker, st budget.Status) []WorkerState {
	out := make([]WorkerState, 0, len(workers))
	for _, w := range workers {
		u := st.Workers[w.Code]
		out = append(out, WorkerState{
			Code:        w.Code,
			Status:      w.Status.String(),
			CurrentTask: w.CurrentTask,
			Spent:       u.Used,
			Limit:       u.Limit,
		})
	}
	return out
}

// dispatchAll walks the executable tasks in queue order. It returns the
// error of every failed dispatch for the quota guard.
func (s *Scheduler) dispatchAll(ctx context.Context, executable []*queue.Task, workers []*roster.Worker, res *TickResult) ([]error, error) {
	var failures []error
	for _, t := range executable {
		if res.Processed >= s.cfg.MaxPerTick {
			log.Printf("scheduler: reached the per-tick limit of %d task(s)", s.cfg.MaxPerTick)
			break
		}
		if ctx.Err() != nil {
			res.Actions = append(res.Actions, "Tick cancelled, remaining tasks left pending")
			break
		}
		if lvl := s.checkBudget().Level; lvl >= budget.LevelCritical {
			log.Printf("WARNING: scheduler: budget %s, stopping dispatch", lvl)
			res.Actions = append(res.Actions, fmt.Sprintf("Budget %s, dispatch stopped", lvl))
			break
		}

		w := s.resolveWorker(t, workers)
		if w == nil {
			log.Printf("WARNING: scheduler: no suitable worker for task %q", t.Title)
			continue
		}
		if d := s.deps.Budget.CanExecute(w.Code); !d.Allowed {
			metrics.AdmissionDenied.WithLabelValues("budget").Inc()
			log.Printf("scheduler: %s not admitted: %s", w.Code, d.Reason)
			continue
		}
		if d := s.deps.Tracker.ShouldExecute(w.Code); !d.Allowed {
			metrics.AdmissionDenied.WithLabelValues("health").Inc()
			log.Printf("scheduler: %s in backoff: %s", w.Code, d.Reason)
			continue
		}

		if res.Processed > 0 {
			if err := s.sleep(ctx, s.cfg.Pause); err != nil {
				res.Actions = append(res.Actions, "Tick cancelled, remaining tasks left pending")
				break
			}
		}

		verb := "Executing"
		if t.AssignedTo == "" {
			if _, err := s.deps.Tasks.Assign(ctx, t.ID, w.Code); err != nil {
				if errors.Is(err, queue.ErrInvalidTransition) {
					log.Printf("WARNING: scheduler: task %s changed under the tick: %v", t.ID, err)
					continue
				}
				return failures, fmt.Errorf("assign task %s: %w", t.ID, err)
			}
			verb = "Assigned and executing"
		}

		res.Processed++
		res.Actions = append(res.Actions, fmt.Sprintf("%s: %s %q", w.Code, verb, t.Title))
		execErr, err := s.dispatch(ctx, w, t)
		if err != nil {
			return failures, err
		}
		if execErr != nil {
			res.Failed++
			failures = append(failures, execErr)
		} else {
			res.Completed++
		}
	}
	return failures, nil
}

// resolveWorker picks the worker for t from the active snapshot: the
// assignee when set, else the first idle worker whose role handles the task
// type, else any idle worker with budget left.
func (s *Scheduler) resolveWorker(t *queue.Task, workers []*roster.Worker) *roster.Worker {
	if t.AssignedTo != "" {
		for _, w := range workers {
			if w.Code == t.AssignedTo {
				if !w.Available() {
					return nil
				}
				return w
			}
		}
		return nil
	}

	var fallback *roster.Worker
	for _, w := range workers {
		if !w.Available() || s.deps.Budget.WorkerExhausted(w.Code) {
			continue
		}
		if w.Handles(t.Type) {
			return w
		}
		if fallback == nil {
			fallback = w
		}
	}
	return fallback
}

// dispatch runs t on w and records the outcome. execErr is the task-level
// failure, if any; err is an infrastructure failure that aborts the tick.
func (s *Scheduler) dispatch(ctx context.Context, w *roster.Worker, t *queue.Task) (execErr, err error) {
	started, err := s.deps.Tasks.Start(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("start task %s: %w", t.ID, err)
	}
	if _, err := s.deps.Workers.MarkRunning(ctx, w.Code, t.ID); err != nil {
		return nil, fmt.Errorf("mark %s running: %w", w.Code, err)
	}
	metrics.TasksDispatched.WithLabelValues(w.Code).Inc()
	s.deps.Events.Publish(events.TaskDispatchedEvent{ID: t.ID, Title: t.Title, Worker: w.Code, Timestamp: s.now()})

	begin := s.now()
	result, execErr := s.deps.Executor.Execute(ctx, w, started)
	elapsed := s.now().Sub(begin)
	metrics.TaskDuration.WithLabelValues(w.Code).Observe(elapsed.Seconds())
	if result.Cost > 0 {
		metrics.SpendDollars.WithLabelValues(w.Code).Add(result.Cost)
	}
	if n := result.TokensUsed(); n > 0 {
		metrics.TokensUsed.WithLabelValues(result.Model).Add(float64(n))
	}

	// Outcome bookkeeping runs even when the tick is cancelled.
	bg := context.WithoutCancel(ctx)
	if execErr != nil {
		return execErr, s.recordFailure(bg, w, started, execErr, elapsed)
	}
	return nil, s.recordSuccess(bg, w, started, result, elapsed)
}

// release frees w once its outcome is recorded. When the bookkeeping itself
// failed the worker is flagged as errored for the healer and cause is
// returned.
func (s *Scheduler) release(ctx context.Context, w *roster.Worker, cause error) error {
	if cause != nil {
		if _, err := s.deps.Workers.MarkError(ctx, w.Code); err != nil {
			log.Printf("ERROR: scheduler: flag %s as errored: %v", w.Code, err)
		}
		w.Status, w.CurrentTask = roster.StatusError, ""
		return cause
	}
	if _, err := s.deps.Workers.MarkIdle(ctx, w.Code); err != nil {
		return fmt.Errorf("mark %s idle: %w", w.Code, err)
	}
	w.Status, w.CurrentTask = roster.StatusIdle, ""
	return nil
}

func (s *Scheduler) recordSuccess(ctx context.Context, w *roster.Worker, t *queue.Task, result agent.Result, elapsed time.Duration) error {
	cost := result.Cost
	done, err := s.deps.Tasks.Complete(ctx, t.ID, queue.Completion{
		Result:     result.Content,
		Cost:       &cost,
		Model:      result.Model,
		TokensUsed: result.TokensUsed(),
	})
	if err != nil {
		return s.release(ctx, w, fmt.Errorf("complete task %s: %w", t.ID, err))
	}
	s.deps.Tracker.RecordSuccess(w.Code)
	if _, err := s.deps.Workers.RecordOutcome(ctx, w.Code, true); err != nil {
		return s.release(ctx, w, fmt.Errorf("record outcome for %s: %w", w.Code, err))
	}
	// The worker is free before chaining so a follow-up stage can go to it.
	if err := s.release(ctx, w, nil); err != nil {
		return err
	}
	metrics.TasksCompleted.WithLabelValues(string(t.Type)).Inc()
	s.deps.Events.Publish(events.TaskCompletedEvent{
		ID:        t.ID,
		Worker:    w.Code,
		Result:    result.Content,
		Cost:      cost,
		Duration:  elapsed,
		Timestamp: s.now(),
	})

	next, err := s.deps.Planner.OnTaskCompleted(ctx, done)
	if err != nil {
		log.Printf("WARNING: scheduler: follow-up for %s: %v", t.ID, err)
	} else if next != nil {
		metrics.TasksGenerated.WithLabelValues("chain").Inc()
	}
	if s.deps.Learner != nil {
		if _, err := s.deps.Learner.LearnFromTask(ctx, t.ID); err != nil {
			log.Printf("WARNING: scheduler: learning from %s: %v", t.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) recordFailure(ctx context.Context, w *roster.Worker, t *queue.Task, execErr error, elapsed time.Duration) error {
	log.Printf("WARNING: scheduler: %s failed task %q: %v", w.Code, t.Title, execErr)
	failed, err := s.deps.Tasks.Fail(ctx, t.ID, execErr.Error(), true)
	if err != nil {
		return s.release(ctx, w, fmt.Errorf("fail task %s: %w", t.ID, err))
	}
	s.deps.Tracker.RecordFailure(w.Code)
	if _, err := s.deps.Workers.RecordOutcome(ctx, w.Code, false); err != nil {
		return s.release(ctx, w, fmt.Errorf("record outcome for %s: %w", w.Code, err))
	}
	if err := s.release(ctx, w, nil); err != nil {
		return err
	}
	metrics.TasksFailed.WithLabelValues(string(t.Type), failureReason(execErr)).Inc()
	requeued := failed.Status == queue.StatusPending
	s.deps.Events.Publish(events.TaskFailedEvent{
		ID:        t.ID,
		Worker:    w.Code,
		Err:       execErr,
		Requeued:  requeued,
		Duration:  elapsed,
		Timestamp: s.now(),
	})

	if !requeued && s.deps.Learner != nil {
		if err := s.deps.Learner.LearnFromFailure(ctx, t.ID); err != nil {
			log.Printf("WARNING: scheduler: learning from failure of %s: %v", t.ID, err)
		}
	}
	return nil
}

// refill asks the planner for work when the queue runs thin. Planner
// errors are logged; the tick carries on.
func (s *Scheduler) refill(ctx context.Context, executable int, res *TickResult) error {
	if executable < s.cfg.StrategyAt {
		planned, err := s.deps.Planner.StrategicPlan(ctx)
		if err != nil {
			log.Printf("WARNING: scheduler: strategic planning: %v", err)
		} else if len(planned) > 0 {
			metrics.TasksGenerated.WithLabelValues("strategy").Add(float64(len(planned)))
			res.Actions = append(res.Actions, fmt.Sprintf("Strategic planning added %d task(s)", len(planned)))
		}
	}

	workers, err := s.deps.Workers.List(ctx, true)
	if err != nil {
		return fmt.Errorf("reload workers: %w", err)
	}
	generated, err := s.deps.Planner.GenerateTasks(ctx, workers)
	if err != nil {
		log.Printf("WARNING: scheduler: task generation: %v", err)
	}
	if len(generated) > 0 {
		metrics.TasksGenerated.WithLabelValues("generation").Add(float64(len(generated)))
		res.Actions = append(res.Actions, fmt.Sprintf("Auto-generated %d task(s) for idle workers", len(generated)))
		for _, t := range generated {
			res.Actions = append(res.Actions, "  -> "+t.Title)
		}
		return nil
	}
	res.Actions = append(res.Actions, s.nextActions(workers)...)
	return nil
}

var suggestions = map[roster.Profile]string{
	roster.ProfileGrowth:  "run growth analysis and competitor monitoring",
	roster.ProfileBD:      "look for free resources and grant opportunities",
	roster.ProfileContent: "write content and refresh documentation",
	roster.ProfileSocial:  "publish social posts and engage with the community",
	roster.ProfileAnalyst: "prepare the business metrics report",
	roster.ProfileRevenue: "review pricing and revenue signals",
	roster.ProfileSupport: "review user feedback and open issues",
	roster.ProfileRisk:    "run a security scan",
	roster.ProfileDevRel:  "tend the developer community and SDK docs",
	roster.ProfileLegal:   "watch for regulatory updates",
}

// nextActions is the fallback plan when generation produced nothing: a
// suggestion for each idle non-premium worker.
func (s *Scheduler) nextActions(workers []*roster.Worker) []string {
	var actions []string
	idle := 0
	for _, w := range workers {
		if w.Status != roster.StatusIdle {
			continue
		}
		idle++
		if w.Premium {
			continue
		}
		if s.deps.Budget.WorkerExhausted(w.Code) {
			actions = append(actions, w.Code+": budget exhausted, waiting for reset")
			continue
		}
		what, ok := suggestions[w.Profile]
		if !ok {
			what = "waiting for work"
		}
		actions = append(actions, w.Code+": "+what)
	}
	if idle == 0 {
		return []string{"All workers are busy or offline"}
	}
	return actions
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, backend.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, backend.ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "error"
}
