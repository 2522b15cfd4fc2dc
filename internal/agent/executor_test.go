package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/budget"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// mockBackend records requests and returns a canned response.
type mockBackend struct {
	mu       sync.Mutex
	requests []backend.Request
	resp     backend.Response
	err      error
	block    chan struct{}
}

func (m *mockBackend) Complete(ctx context.Context, req backend.Request) (backend.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return m.resp, m.err
}

func (m *mockBackend) calls() []backend.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backend.Request(nil), m.requests...)
}

type failingLedger struct{}

func (failingLedger) AppendLedger(context.Context, budget.Entry) error { return errors.New("disk full") }
func (failingLedger) LedgerSince(context.Context, time.Time) ([]budget.Entry, error) {
	return nil, nil
}

type taskMap map[string]*queue.Task

func (m taskMap) Get(_ context.Context, id string) (*queue.Task, error) {
	t, ok := m[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return t, nil
}

func testWorker() *roster.Worker {
	return &roster.Worker{
		Code:    "CONTENT-01",
		Name:    "Content",
		Role:    roster.RoleGrowth,
		Profile: roster.ProfileContent,
		Model:   "claude-sonnet-4",
		Active:  true,
	}
}

func testGovernor(opts ...budget.Option) *budget.Governor {
	return budget.New(budget.Config{
		Prices:     budget.DefaultPrices(),
		Thresholds: budget.DefaultThresholds(),
	}, opts...)
}

func TestExecuteRecordsUsage(t *testing.T) {
	mb := &mockBackend{resp: backend.Response{
		Content: "Draft article ready.",
		Model:   "claude-sonnet-4",
		Usage:   backend.Usage{InputUnits: 1_000_000, OutputUnits: 100_000},
	}}
	gov := testGovernor()
	exec := NewExecutor(mb, gov, nil, DefaultConfig())

	task := &queue.Task{ID: "t1", Title: "Write launch post", Type: queue.TypeMarketing, Priority: queue.PriorityHigh}
	res, err := exec.Execute(context.Background(), testWorker(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "Draft article ready." || res.Model != "claude-sonnet-4" {
		t.Errorf("result = %+v", res)
	}
	if want := 3.0 + 1.5; res.Cost != want {
		t.Errorf("cost = %v, want %v", res.Cost, want)
	}
	if res.TokensUsed() != 1_100_000 {
		t.Errorf("tokens = %d", res.TokensUsed())
	}
	if got := gov.Status().Workers["CONTENT-01"].Used; got != res.Cost {
		t.Errorf("governor used = %v, want %v", got, res.Cost)
	}

	reqs := mb.calls()
	if len(reqs) != 1 {
		t.Fatalf("provider called %d times", len(reqs))
	}
	req := reqs[0]
	if req.Worker != "CONTENT-01" || req.Options.Model != "claude-sonnet-4" || req.Options.MaxTokens != 4096 {
		t.Errorf("request header = %+v", req)
	}
	if !strings.Contains(req.System, "CONTENT-01") || !strings.Contains(req.System, "written content") {
		t.Errorf("system prompt = %q", req.System)
	}
	if !strings.Contains(req.Messages[0].Content, "Task: Write launch post") {
		t.Errorf("user prompt = %q", req.Messages[0].Content)
	}
}

func TestExecuteFallsBackToWorkerModel(t *testing.T) {
	mb := &mockBackend{resp: backend.Response{Content: "ok"}}
	exec := NewExecutor(mb, nil, nil, DefaultConfig())
	res, err := exec.Execute(context.Background(), testWorker(), &queue.Task{ID: "t1", Title: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Model != "claude-sonnet-4" {
		t.Errorf("model = %q", res.Model)
	}
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name    string
		resp    backend.Response
		err     error
		wantErr error
	}{
		{name: "rate limited", err: backend.ErrRateLimited, wantErr: backend.ErrRateLimited},
		{name: "empty content", resp: backend.Response{Content: "  \n", Usage: backend.Usage{InputUnits: 10}}, wantErr: backend.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := &mockBackend{resp: tt.resp, err: tt.err}
			exec := NewExecutor(mb, testGovernor(), nil, DefaultConfig())
			_, err := exec.Execute(context.Background(), testWorker(), &queue.Task{ID: "t1", Title: "x"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecuteLedgerFailureIsNotFatal(t *testing.T) {
	mb := &mockBackend{resp: backend.Response{Content: "done", Usage: backend.Usage{InputUnits: 100}}}
	exec := NewExecutor(mb, testGovernor(budget.WithLedger(failingLedger{})), nil, DefaultConfig())
	res, err := exec.Execute(context.Background(), testWorker(), &queue.Task{ID: "t1", Title: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Cost == 0 {
		t.Error("cost should still be reported when the ledger write fails")
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	mb := &mockBackend{resp: backend.Response{Content: "ok"}}
	exec := NewExecutor(mb, nil, nil, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exec.Execute(ctx, testWorker(), &queue.Task{ID: "t1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(mb.calls()) != 0 {
		t.Error("provider must not be called after cancellation")
	}
}

func TestExecuteRejectsConcurrentRunForSameWorker(t *testing.T) {
	release := make(chan struct{})
	mb := &mockBackend{resp: backend.Response{Content: "ok"}, block: release}
	exec := NewExecutor(mb, nil, nil, DefaultConfig())
	w := testWorker()

	done := make(chan error, 1)
	go func() {
		_, err := exec.Execute(context.Background(), w, &queue.Task{ID: "t1"})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(mb.calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first execution never reached the provider")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := exec.Execute(context.Background(), w, &queue.Task{ID: "t2"}); !errors.Is(err, ErrWorkerBusy) {
		t.Errorf("second execution err = %v, want ErrWorkerBusy", err)
	}

	other := testWorker()
	other.Code = "SOCIAL-01"
	mb.mu.Lock()
	mb.block = nil
	mb.mu.Unlock()
	if _, err := exec.Execute(context.Background(), other, &queue.Task{ID: "t3"}); err != nil {
		t.Errorf("other worker should not be blocked: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first execution: %v", err)
	}
}

func TestTaskPromptContext(t *testing.T) {
	parent := &queue.Task{ID: "p1", Title: "Q3 launch", Description: strings.Repeat("goal ", 10)}
	task := &queue.Task{
		ID:          "t1",
		Title:       "Write the announcement",
		Description: "Keep it under 500 words.",
		Type:        queue.TypeMarketing,
		Priority:    queue.PriorityUrgent,
		ParentID:    "p1",
		RetryCount:  1,
		Error:       "provider timed out",
		Context:     queue.ExecContext{Pipeline: "content-publish", Tags: []string{"launch", "blog"}},
	}
	exec := NewExecutor(&mockBackend{}, nil, taskMap{"p1": parent}, Config{ContextChars: 12})
	req := exec.Request(context.Background(), testWorker(), task)
	prompt := req.Messages[0].Content

	for _, want := range []string{
		"Task: Write the announcement",
		"Type: marketing",
		"Priority: urgent",
		"Keep it under 500 words.",
		`"content-publish" pipeline`,
		"Tags: launch, blog",
		`larger task "Q3 launch"`,
		"Overall goal: goal goal go...",
		"Attempt 2. The previous attempt failed with: provider tim...",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestTaskPromptMissingParent(t *testing.T) {
	task := &queue.Task{ID: "t1", Title: "Orphan", ParentID: "gone"}
	exec := NewExecutor(&mockBackend{}, nil, taskMap{}, DefaultConfig())
	prompt := exec.Request(context.Background(), testWorker(), task).Messages[0].Content
	if strings.Contains(prompt, "larger task") {
		t.Errorf("unexpected parent context: %s", prompt)
	}
}

func TestSystemPromptUnknownRole(t *testing.T) {
	w := &roster.Worker{Code: "X-01", Name: "X", Role: roster.Role("ghost")}
	if got := SystemPrompt(w); !strings.Contains(got, roleBriefs[roster.RoleCustom]) {
		t.Errorf("system prompt = %q", got)
	}
}

func TestWorkerLocks(t *testing.T) {
	l := NewWorkerLocks()
	if err := l.TryLock("A"); err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	if err := l.TryLock("A"); !errors.Is(err, ErrWorkerBusy) {
		t.Errorf("second TryLock = %v", err)
	}
	if err := l.TryLock("B"); err != nil {
		t.Errorf("independent worker: %v", err)
	}
	l.Unlock("A")
	l.Unlock("B")
	l.Unlock("never-locked-or-created")

	// Only one of many concurrent claims on the same worker wins.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryLock("A") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
	l.Unlock("A")
}
