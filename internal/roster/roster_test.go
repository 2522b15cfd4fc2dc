package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/hq/internal/queue"
)

type memStore struct {
	mu      sync.Mutex
	workers map[string]Worker
}

func newMemStore() *memStore {
	return &memStore{workers: make(map[string]Worker)}
}

func (m *memStore) UpsertWorker(_ context.Context, w *Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.Code] = *w
	return nil
}

func (m *memStore) GetWorker(_ context.Context, code string) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (m *memStore) ListWorkers(_ context.Context, activeOnly bool) ([]*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Worker
	for _, w := range m.workers {
		if activeOnly && !w.Active {
			continue
		}
		w := w
		out = append(out, &w)
	}
	return out, nil
}

func seeded(t *testing.T) (*Roster, *memStore) {
	t.Helper()
	store := newMemStore()
	r := New(store)
	r.SetClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) })
	if err := r.Seed(context.Background(), DefaultWorkers()); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	return r, store
}

func TestSeedDefaults(t *testing.T) {
	r, _ := seeded(t)
	workers, err := r.List(context.Background(), true)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(workers) != 13 {
		t.Fatalf("len = %d, want 13", len(workers))
	}
	for i := 1; i < len(workers); i++ {
		if workers[i-1].Code >= workers[i].Code {
			t.Errorf("workers not sorted: %s before %s", workers[i-1].Code, workers[i].Code)
		}
	}
	for _, w := range workers {
		if w.Status != StatusIdle || !w.Active {
			t.Errorf("%s seeded as status=%s active=%v", w.Code, w.Status, w.Active)
		}
	}
}

func TestSeedKeepsRuntimeState(t *testing.T) {
	r, _ := seeded(t)
	ctx := context.Background()
	if _, err := r.Pause(ctx, "GROWTH-01"); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if err := r.Seed(ctx, DefaultWorkers()); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	w, _ := r.Get(ctx, "GROWTH-01")
	if w.Status != StatusPaused || w.Active {
		t.Errorf("reseed reset paused worker: status=%s active=%v", w.Status, w.Active)
	}
}

func TestStatusTransitions(t *testing.T) {
	r, _ := seeded(t)
	ctx := context.Background()

	w, err := r.MarkRunning(ctx, "ANALYST-01", "task-1")
	if err != nil {
		t.Fatalf("MarkRunning() error: %v", err)
	}
	if w.Status != StatusRunning || w.CurrentTask != "task-1" || w.Stats.LastActiveAt.IsZero() {
		t.Errorf("running worker = %+v", w)
	}

	if _, err := r.RecordOutcome(ctx, "ANALYST-01", true); err != nil {
		t.Fatalf("RecordOutcome() error: %v", err)
	}
	if _, err := r.RecordOutcome(ctx, "ANALYST-01", false); err != nil {
		t.Fatalf("RecordOutcome() error: %v", err)
	}

	w, err = r.MarkIdle(ctx, "ANALYST-01")
	if err != nil {
		t.Fatalf("MarkIdle() error: %v", err)
	}
	if w.Status != StatusIdle || w.CurrentTask != "" {
		t.Errorf("idle worker = %+v", w)
	}
	if w.Stats.Completed != 1 || w.Stats.Failed != 1 || w.Stats.SuccessRate() != 0.5 {
		t.Errorf("stats = %+v", w.Stats)
	}

	if _, err := r.MarkRunning(ctx, "NOPE-01", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRunning(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestPauseResume(t *testing.T) {
	r, _ := seeded(t)
	ctx := context.Background()

	if _, err := r.Pause(ctx, "BD-01"); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	active, _ := r.List(ctx, true)
	for _, w := range active {
		if w.Code == "BD-01" {
			t.Fatal("paused worker listed as active")
		}
	}

	w, err := r.Resume(ctx, "BD-01")
	if err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if !w.Available() {
		t.Errorf("resumed worker not available: %+v", w)
	}
}

func TestFindIdle(t *testing.T) {
	r, _ := seeded(t)
	ctx := context.Background()

	w, err := r.FindIdle(ctx, RoleGrowth)
	if err != nil {
		t.Fatalf("FindIdle() error: %v", err)
	}
	if w == nil || w.Code != "CONTENT-01" {
		t.Fatalf("FindIdle(growth) = %v, want CONTENT-01", w)
	}

	for _, code := range []string{"CONTENT-01", "GROWTH-01", "SOCIAL-01"} {
		if _, err := r.MarkRunning(ctx, code, "busy"); err != nil {
			t.Fatalf("MarkRunning(%s) error: %v", code, err)
		}
	}
	w, err = r.FindIdle(ctx, RoleGrowth)
	if err != nil {
		t.Fatalf("FindIdle() error: %v", err)
	}
	if w != nil {
		t.Errorf("FindIdle(growth) = %s, want nil", w.Code)
	}
}

func TestHandles(t *testing.T) {
	tests := []struct {
		role Role
		typ  queue.Type
		want bool
	}{
		{RoleCoder, queue.TypeDevelopment, true},
		{RoleGrowth, queue.TypeDevelopment, false},
		{RoleAnalyst, queue.TypeResearch, true},
		{RoleSupport, queue.TypeOperations, true},
		{RoleCommander, queue.TypePlanning, false},
		{RoleArchitect, queue.TypeReview, false},
	}
	for _, tt := range tests {
		w := Worker{Role: tt.role}
		if got := w.Handles(tt.typ); got != tt.want {
			t.Errorf("%s handles %s = %v, want %v", tt.role, tt.typ, got, tt.want)
		}
	}
}
