package app

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/config"
	"github.com/aristath/hq/internal/orchestrator"
	"github.com/aristath/hq/internal/persistence"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// countingBackend answers every request and remembers who asked.
type countingBackend struct {
	mu      sync.Mutex
	workers []string
}

func (c *countingBackend) Complete(_ context.Context, req backend.Request) (backend.Response, error) {
	c.mu.Lock()
	c.workers = append(c.workers, req.Worker)
	c.mu.Unlock()
	return backend.Response{
		Content: req.Worker + " finished the assignment and documented the outcome.",
		Model:   "claude-sonnet-4",
		Usage:   backend.Usage{InputUnits: 800, OutputUnits: 400},
	}, nil
}

func (c *countingBackend) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.workers...)
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	a, err := New(ctx, cfg, append([]Option{WithStore(store)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewRunsATick(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tick.Pause = 0
	provider := &countingBackend{}
	a := newTestApp(t, cfg, WithBackend("claude", provider), WithBackend("anthropic", provider))

	ctx := context.Background()
	task, err := a.Queue.Create(ctx, queue.Spec{
		Title:      "Draft launch announcement",
		Type:       queue.TypeMarketing,
		AssignedTo: "GROWTH-01",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	res, err := a.Scheduler.ExecuteTick(ctx, "manual")
	if err != nil {
		t.Fatalf("ExecuteTick() error: %v", err)
	}
	if res.Completed < 1 {
		t.Fatalf("completed = %d, want at least 1 (actions %v)", res.Completed, res.Actions)
	}

	got, err := a.Queue.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != queue.StatusCompleted {
		t.Errorf("status = %v, want completed", got.Status)
	}

	calls := provider.calls()
	if len(calls) == 0 || calls[0] != "GROWTH-01" {
		t.Errorf("provider calls = %v, want GROWTH-01 first", calls)
	}
	if a.Governor.Status().Global.Used <= 0 {
		t.Error("expected spend to be recorded")
	}

	// Seeded workers come from the configuration.
	workers, err := a.Roster.List(ctx, false)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(workers) != len(cfg.Workers) {
		t.Errorf("workers = %d, want %d", len(workers), len(cfg.Workers))
	}
}

func TestProviderChains(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	tests := []struct {
		name      string
		overrides []Option
		worker    string
		want      []string
	}{
		{
			name:   "unavailable api route is left out",
			worker: roster.Architect,
			want:   []string{"claude"},
		},
		{
			name:      "premium worker tries the api first",
			overrides: []Option{WithBackend("anthropic", &countingBackend{})},
			worker:    roster.Coder,
			want:      []string{"anthropic", "claude"},
		},
		{
			name:   "free worker uses the default route",
			worker: "ANALYST-01",
			want:   []string{"claude"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApp(t, config.DefaultConfig(), tt.overrides...)
			routes := a.Router.Routes(tt.worker)
			var names []string
			for _, r := range routes {
				names = append(names, r.Name)
			}
			if len(names) != len(tt.want) {
				t.Fatalf("routes = %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Errorf("routes = %v, want %v", names, tt.want)
					break
				}
			}
		})
	}
}

func TestNewRejectsUndefinedRoute(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workers[0].Provider = "missing"

	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := New(context.Background(), cfg, WithStore(store)); err == nil {
		t.Fatal("expected an error for an undefined provider route")
	}
}

func TestNewRegistersConfiguredPipelines(t *testing.T) {
	cfg := config.DefaultConfig()
	first := 0
	cfg.Pipelines = []orchestrator.Template{{
		Key:  "weekly-report",
		Name: "Weekly report",
		Stages: []orchestrator.StageTemplate{
			{Role: "analyst", Title: "Collect numbers", Description: "Gather the weekly metrics"},
			{Role: "growth", Title: "Write summary", Description: "Summarize the week", DependsOn: &first},
		},
	}}
	a := newTestApp(t, cfg)

	found := false
	for _, tmpl := range a.Orchestrator.Templates() {
		if tmpl.Key == "weekly-report" {
			found = true
		}
	}
	if !found {
		t.Fatal("configured pipeline template was not registered")
	}

	p, err := a.Orchestrator.StartPipeline(context.Background(), "weekly-report", nil, "")
	if err != nil {
		t.Fatalf("StartPipeline() error: %v", err)
	}
	if len(p.Stages) != 2 {
		t.Errorf("stages = %d, want 2", len(p.Stages))
	}
}

// TestCloseKillsSubprocesses verifies that Close terminates tracked agent
// CLI processes.
func TestCloseKillsSubprocesses(t *testing.T) {
	a := newTestApp(t, config.DefaultConfig())

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start subprocess: %v", err)
	}
	a.Procs.Track(cmd)
	defer a.Procs.Untrack(cmd)

	if err := a.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected the process to be killed, got a clean exit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("process did not terminate after Close()")
	}
}
