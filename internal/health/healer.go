package health

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// StaleTaskNote is recorded on tasks reset by the healer.
const StaleTaskNote = "Auto-reset: task was stuck in progress"

// RepairKind names what the healer fixed.
type RepairKind string

const (
	RepairStuckWorker RepairKind = "stuck_worker"
	RepairErrorWorker RepairKind = "error_worker"
	RepairStaleTask   RepairKind = "stale_task"
)

// Repair describes one fix.
type Repair struct {
	Kind    RepairKind
	Subject string // worker code or task id
	Message string
}

// Workers is the roster access the healer needs.
type Workers interface {
	List(ctx context.Context, activeOnly bool) ([]*roster.Worker, error)
	MarkIdle(ctx context.Context, code string) (*roster.Worker, error)
}

// Tasks is the queue access the healer needs.
type Tasks interface {
	ResetStuck(ctx context.Context, cutoff time.Time, note string) ([]*queue.Task, error)
}

// HealerConfig holds the stuck thresholds.
type HealerConfig struct {
	StuckWorkerAfter time.Duration
	StaleTaskAfter   time.Duration
	// ClearFailuresAt is the failure count at which an error worker also
	// gets a clean tracker record.
	ClearFailuresAt int
}

// DefaultHealerConfig returns 10m for running workers and 30m for tasks.
func DefaultHealerConfig() HealerConfig {
	return HealerConfig{
		StuckWorkerAfter: 10 * time.Minute,
		StaleTaskAfter:   30 * time.Minute,
		ClearFailuresAt:  5,
	}
}

// Healer resets state stuck in transient statuses. Every repair is
// idempotent, so AutoHeal runs on every tick.
type Healer struct {
	workers Workers
	tasks   Tasks
	tracker Tracker
	cfg     HealerConfig
	now     func() time.Time
}

// NewHealer creates a healer.
func NewHealer(workers Workers, tasks Tasks, tracker Tracker, cfg HealerConfig) *Healer {
	def := DefaultHealerConfig()
	if cfg.StuckWorkerAfter <= 0 {
		cfg.StuckWorkerAfter = def.StuckWorkerAfter
	}
	if cfg.StaleTaskAfter <= 0 {
		cfg.StaleTaskAfter = def.StaleTaskAfter
	}
	if cfg.ClearFailuresAt <= 0 {
		cfg.ClearFailuresAt = def.ClearFailuresAt
	}
	return &Healer{workers: workers, tasks: tasks, tracker: tracker, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source.
func (h *Healer) SetClock(now func() time.Time) {
	h.now = now
}

// AutoHeal returns workers stuck running and workers in error to idle, and
// requeues stale in-progress tasks.
func (h *Healer) AutoHeal(ctx context.Context) ([]Repair, error) {
	now := h.now()
	workers, err := h.workers.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	var repairs []Repair
	for _, w := range workers {
		switch w.Status {
		case roster.StatusRunning:
			stuck := now.Sub(w.UpdatedAt)
			if stuck <= h.cfg.StuckWorkerAfter {
				continue
			}
			if _, err := h.workers.MarkIdle(ctx, w.Code); err != nil {
				return repairs, fmt.Errorf("reset worker %s: %w", w.Code, err)
			}
			repairs = append(repairs, Repair{
				Kind:    RepairStuckWorker,
				Subject: w.Code,
				Message: fmt.Sprintf("reset from running (stuck for %dmin)", int(stuck.Minutes())),
			})
			log.Printf("WARNING: health: reset %s from stuck running state", w.Code)

		case roster.StatusError:
			failures := h.tracker.Failures(w.Code)
			if _, err := h.workers.MarkIdle(ctx, w.Code); err != nil {
				return repairs, fmt.Errorf("reset worker %s: %w", w.Code, err)
			}
			cleared := failures >= h.cfg.ClearFailuresAt
			if cleared {
				h.tracker.Clear(w.Code)
			}
			repairs = append(repairs, Repair{
				Kind:    RepairErrorWorker,
				Subject: w.Code,
				Message: fmt.Sprintf("reset from error to idle (failures: %d, tracker cleared: %v)", failures, cleared),
			})
			log.Printf("health: reset %s from error to idle (failures: %d)", w.Code, failures)
		}
	}

	stale, err := h.tasks.ResetStuck(ctx, now.Add(-h.cfg.StaleTaskAfter), StaleTaskNote)
	for _, t := range stale {
		repairs = append(repairs, Repair{
			Kind:    RepairStaleTask,
			Subject: t.ID,
			Message: fmt.Sprintf("requeued stale task %q", t.Title),
		})
		log.Printf("WARNING: health: requeued stale task %q", t.Title)
	}
	if err != nil {
		return repairs, fmt.Errorf("reset stale tasks: %w", err)
	}
	return repairs, nil
}
