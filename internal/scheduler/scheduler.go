// Package scheduler runs the tick: the periodic coordination pass that heals
// stuck state, dispatches executable tasks one at a time under budget and
// health admission, and refills a thin queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/hq/internal/agent"
	"github.com/aristath/hq/internal/budget"
	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/health"
	"github.com/aristath/hq/internal/learning"
	"github.com/aristath/hq/internal/metrics"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

var (
	// ErrTickInProgress is returned when a tick is requested while another
	// one is running. The request is dropped, not queued.
	ErrTickInProgress = errors.New("tick already in progress")
	// ErrTickSuppressed is returned by ScheduledTick when ticks are disabled
	// or the quota guard is cooling down.
	ErrTickSuppressed = errors.New("scheduled tick suppressed")
)

// Tasks is the queue access the scheduler needs.
type Tasks interface {
	ExecutableTasks(ctx context.Context, worker string, limit int) ([]*queue.Task, error)
	Assign(ctx context.Context, id, worker string) (*queue.Task, error)
	Start(ctx context.Context, id string) (*queue.Task, error)
	Complete(ctx context.Context, id string, c queue.Completion) (*queue.Task, error)
	Fail(ctx context.Context, id, errText string, retry bool) (*queue.Task, error)
	List(ctx context.Context, f queue.Filter) ([]*queue.Task, error)
	Stats(ctx context.Context, since time.Time) (queue.Stats, error)
}

// Workers is the roster access the scheduler needs.
type Workers interface {
	List(ctx context.Context, activeOnly bool) ([]*roster.Worker, error)
	MarkRunning(ctx context.Context, code, taskID string) (*roster.Worker, error)
	MarkIdle(ctx context.Context, code string) (*roster.Worker, error)
	MarkError(ctx context.Context, code string) (*roster.Worker, error)
	RecordOutcome(ctx context.Context, code string, success bool) (*roster.Worker, error)
}

// Budget is the admission side of the budget governor.
type Budget interface {
	Status() budget.Status
	CanExecute(worker string) budget.Decision
	WorkerExhausted(worker string) bool
}

// Healer repairs stuck worker and task state.
type Healer interface {
	AutoHeal(ctx context.Context) ([]health.Repair, error)
}

// Executor runs one task as one worker.
type Executor interface {
	Execute(ctx context.Context, w *roster.Worker, t *queue.Task) (agent.Result, error)
}

// Planner creates work: follow-ups, proactive tasks and strategic plans.
type Planner interface {
	OnTaskCompleted(ctx context.Context, t *queue.Task) (*queue.Task, error)
	GenerateTasks(ctx context.Context, workers []*roster.Worker) ([]*queue.Task, error)
	StrategicPlan(ctx context.Context) ([]*queue.Task, error)
}

// Learner receives task outcomes.
type Learner interface {
	LearnFromTask(ctx context.Context, taskID string) (*learning.Insight, error)
	LearnFromFailure(ctx context.Context, taskID string) error
	AutoShare(ctx context.Context) (int, error)
}

// Config tunes the tick.
type Config struct {
	// Enabled gates scheduled ticks. Manual ticks always run.
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Pause is waited between two dispatches of the same tick.
	Pause       time.Duration `mapstructure:"pause" yaml:"pause"`
	MaxPerTick  int           `mapstructure:"max_per_tick" yaml:"max_per_tick"`
	ScanLimit   int           `mapstructure:"scan_limit" yaml:"scan_limit"`
	ThinQueue   int           `mapstructure:"thin_queue" yaml:"thin_queue"`
	StrategyAt  int           `mapstructure:"strategy_below" yaml:"strategy_below"`
	QuotaTrip   QuotaTrip     `mapstructure:"quota_trip" yaml:"quota_trip"`
	Cooldown    time.Duration `mapstructure:"quota_cooldown" yaml:"quota_cooldown"`
	StaleAfter  time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	BacklogWarn int           `mapstructure:"backlog_warn" yaml:"backlog_warn"`
}

// DefaultConfig returns the stock tick settings.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Interval:    30 * time.Minute,
		Pause:       4 * time.Second,
		MaxPerTick:  6,
		ScanLimit:   50,
		ThinQueue:   5,
		StrategyAt:  3,
		QuotaTrip:   TripAllFailed,
		Cooldown:    20 * time.Minute,
		StaleAfter:  30 * time.Minute,
		BacklogWarn: 20,
	}
}

// Deps are the collaborators of a Scheduler. Learner and Events may be nil.
type Deps struct {
	Store    Store
	Tasks    Tasks
	Workers  Workers
	Budget   Budget
	Tracker  health.Tracker
	Healer   Healer
	Executor Executor
	Planner  Planner
	Learner  Learner
	Events   events.Publisher
}

// Scheduler owns the tick.
type Scheduler struct {
	cfg   Config
	deps  Deps
	quota *QuotaGuard

	running atomic.Bool

	mu        sync.Mutex
	lastLevel budget.Level

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep overrides how the scheduler waits between dispatches.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// New creates a scheduler.
func New(cfg Config, deps Deps, opts ...Option) *Scheduler {
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	s := &Scheduler{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		sleep: sleepCtx,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.quota = NewQuotaGuard(cfg.QuotaTrip, cfg.Cooldown, s.now)
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Quota exposes the quota guard.
func (s *Scheduler) Quota() *QuotaGuard {
	return s.quota
}

// Running reports whether a tick is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// ScheduledTick is the timer entry point. It is suppressed while ticks are
// disabled or the quota guard is cooling down.
func (s *Scheduler) ScheduledTick(ctx context.Context) (*TickResult, error) {
	if !s.cfg.Enabled {
		metrics.TicksSkipped.WithLabelValues("disabled").Inc()
		return nil, fmt.Errorf("%w: ticks are disabled", ErrTickSuppressed)
	}
	if suppressed, left := s.quota.Suppressed(); suppressed {
		metrics.TicksSkipped.WithLabelValues("quota").Inc()
		log.Printf("scheduler: quota exhausted recently, skipping tick (%s left)", left.Round(time.Second))
		return nil, fmt.Errorf("%w: quota cooldown, %s left", ErrTickSuppressed, left.Round(time.Second))
	}
	metrics.QuotaTripped.Set(0)
	return s.ExecuteTick(ctx, "scheduled")
}

// ExecuteTick runs one coordination pass. A second call while a tick is
// running returns ErrTickInProgress without recording anything. Task,
// worker, budget and quota problems are recovered and reported in the
// result; only infrastructure errors fail the tick and are returned.
func (s *Scheduler) ExecuteTick(ctx context.Context, trigger string) (*TickResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.TicksSkipped.WithLabelValues("in_progress").Inc()
		return nil, ErrTickInProgress
	}
	defer s.running.Store(false)
	metrics.TickInFlight.Set(1)
	defer metrics.TickInFlight.Set(0)

	if trigger == "" {
		trigger = "manual"
	}
	exec := &TickExecution{
		ID:        s.newID(),
		Trigger:   trigger,
		Status:    TickRunning,
		StartedAt: s.now(),
	}
	if err := s.deps.Store.InsertTick(ctx, exec); err != nil {
		return nil, fmt.Errorf("record tick start: %w", err)
	}
	log.Printf("scheduler: tick %s started (trigger: %s)", exec.ID, trigger)
	s.deps.Events.Publish(events.TickStartedEvent{TickID: exec.ID, Trigger: trigger, Timestamp: exec.StartedAt})

	res := &TickResult{TickID: exec.ID, Trigger: trigger, StartedAt: exec.StartedAt, NextTickIn: s.cfg.Interval}
	runErr := s.run(ctx, res)

	exec.FinishedAt = s.now()
	exec.Duration = exec.FinishedAt.Sub(exec.StartedAt)
	exec.Processed, exec.Completed, exec.Failed = res.Processed, res.Completed, res.Failed
	exec.Actions = res.Actions
	exec.Status = TickCompleted
	if runErr != nil {
		exec.Status = TickFailed
		exec.Metadata = map[string]string{"error": runErr.Error()}
	}
	res.Duration = exec.Duration

	if err := s.deps.Store.UpdateTick(context.WithoutCancel(ctx), exec); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("record tick end: %w", err)
		} else {
			log.Printf("ERROR: scheduler: record tick %s end: %v", exec.ID, err)
		}
	}

	metrics.TicksTotal.WithLabelValues(trigger, exec.Status.String()).Inc()
	metrics.TickDuration.Observe(exec.Duration.Seconds())
	s.deps.Events.Publish(events.TickFinishedEvent{
		TickID:    exec.ID,
		Status:    exec.Status.String(),
		Processed: res.Processed,
		Completed: res.Completed,
		Failed:    res.Failed,
		Duration:  exec.Duration,
		Timestamp: exec.FinishedAt,
	})

	if runErr != nil {
		log.Printf("ERROR: scheduler: tick %s failed: %v", exec.ID, runErr)
		return res, runErr
	}

	if res.Completed > 0 && s.deps.Learner != nil {
		if _, err := s.deps.Learner.AutoShare(ctx); err != nil {
			log.Printf("WARNING: scheduler: auto-share failed: %v", err)
		}
	}
	log.Printf("scheduler: tick %s completed: %d processed, %d completed, %d failed",
		exec.ID, res.Processed, res.Completed, res.Failed)
	return res, nil
}

// Run fires ScheduledTick every Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := s.ScheduledTick(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrTickInProgress), errors.Is(err, ErrTickSuppressed):
				log.Printf("scheduler: %v", err)
			default:
				log.Printf("ERROR: scheduler: scheduled tick: %v", err)
			}
		}
	}
}
