package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a worker code does not resolve.
var ErrNotFound = errors.New("worker not found")

// Store persists workers.
type Store interface {
	UpsertWorker(ctx context.Context, w *Worker) error
	GetWorker(ctx context.Context, code string) (*Worker, error)
	ListWorkers(ctx context.Context, activeOnly bool) ([]*Worker, error)
}

// Roster owns worker state. Only the scheduler and the healer mutate it.
type Roster struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// New creates a roster backed by store.
func New(store Store) *Roster {
	return &Roster{store: store, now: time.Now}
}

// SetClock overrides the time source.
func (r *Roster) SetClock(now func() time.Time) {
	r.now = now
}

// Seed inserts every worker that does not exist yet. Existing workers keep
// their runtime state; their static fields (name, role, profile, route) are
// refreshed from the seed.
func (r *Roster) Seed(ctx context.Context, workers []Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range workers {
		seed := workers[i]
		existing, err := r.store.GetWorker(ctx, seed.Code)
		switch {
		case errors.Is(err, ErrNotFound):
			seed.Active = true
			seed.Status = StatusIdle
			seed.UpdatedAt = r.now()
			if err := r.store.UpsertWorker(ctx, &seed); err != nil {
				return fmt.Errorf("seed worker %s: %w", seed.Code, err)
			}
		case err != nil:
			return fmt.Errorf("load worker %s: %w", seed.Code, err)
		default:
			existing.Name = seed.Name
			existing.Role = seed.Role
			existing.Profile = seed.Profile
			existing.Premium = seed.Premium
			existing.Provider = seed.Provider
			existing.Model = seed.Model
			if err := r.store.UpsertWorker(ctx, existing); err != nil {
				return fmt.Errorf("refresh worker %s: %w", seed.Code, err)
			}
		}
	}
	return nil
}

// Get returns a worker by code.
func (r *Roster) Get(ctx context.Context, code string) (*Worker, error) {
	return r.store.GetWorker(ctx, code)
}

// List returns workers ordered by code.
func (r *Roster) List(ctx context.Context, activeOnly bool) ([]*Worker, error) {
	workers, err := r.store.ListWorkers(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Code < workers[j].Code })
	return workers, nil
}

// FindIdle returns the first available worker (by code) with the given role,
// or nil when every such worker is busy or inactive.
func (r *Roster) FindIdle(ctx context.Context, role Role) (*Worker, error) {
	workers, err := r.List(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, w := range workers {
		if w.Role == role && w.Available() {
			return w, nil
		}
	}
	return nil, nil
}

// MarkRunning records that the worker picked up taskID.
func (r *Roster) MarkRunning(ctx context.Context, code, taskID string) (*Worker, error) {
	return r.update(ctx, code, func(w *Worker, now time.Time) {
		w.Status = StatusRunning
		w.CurrentTask = taskID
		w.Stats.LastActiveAt = now
	})
}

// MarkIdle returns the worker to idle and clears its task pointer.
func (r *Roster) MarkIdle(ctx context.Context, code string) (*Worker, error) {
	return r.update(ctx, code, func(w *Worker, _ time.Time) {
		w.Status = StatusIdle
		w.CurrentTask = ""
	})
}

// MarkError flags the worker as broken. The healer resets it on the next tick.
func (r *Roster) MarkError(ctx context.Context, code string) (*Worker, error) {
	return r.update(ctx, code, func(w *Worker, _ time.Time) {
		w.Status = StatusError
		w.CurrentTask = ""
	})
}

// RecordOutcome bumps the worker's completed or failed counter.
func (r *Roster) RecordOutcome(ctx context.Context, code string, success bool) (*Worker, error) {
	return r.update(ctx, code, func(w *Worker, now time.Time) {
		if success {
			w.Stats.Completed++
		} else {
			w.Stats.Failed++
		}
		w.Stats.LastActiveAt = now
	})
}

// Pause takes the worker out of rotation.
func (r *Roster) Pause(ctx context.Context, code string) (*Worker, error) {
	return r.update(ctx, code, func(w *Worker, _ time.Time) {
		w.Status = StatusPaused
		w.Active = false
		w.CurrentTask = ""
	})
}

// Resume puts a paused worker back into rotation as idle.
func (r *Roster) Resume(ctx context.Context, code string) (*Worker, error) {
	return r.update(ctx, code, func(w *Worker, _ time.Time) {
		w.Status = StatusIdle
		w.Active = true
	})
}

func (r *Roster) update(ctx context.Context, code string, fn func(*Worker, time.Time)) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.store.GetWorker(ctx, code)
	if err != nil {
		return nil, err
	}
	now := r.now()
	fn(w, now)
	w.UpdatedAt = now
	if err := r.store.UpsertWorker(ctx, w); err != nil {
		return nil, fmt.Errorf("update worker %s: %w", code, err)
	}
	return w, nil
}
