package comms_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/comms"
	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/persistence"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx    context.Context
	clock  *testClock
	queue  *queue.Queue
	roster *roster.Roster
	bus    *comms.Bus
	events *events.EventBus

	mu      sync.Mutex
	prompts []backend.Request
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		ctx:    ctx,
		clock:  &testClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
		events: events.NewEventBus(),
	}
	t.Cleanup(f.events.Close)

	f.queue = queue.New(store, queue.WithClock(f.clock.Now))
	f.roster = roster.New(store)
	if err := f.roster.Seed(ctx, roster.DefaultWorkers()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	provider := backend.Func(func(_ context.Context, req backend.Request) (backend.Response, error) {
		f.mu.Lock()
		f.prompts = append(f.prompts, req)
		f.mu.Unlock()
		return backend.Response{Content: "Try the referral angle."}, nil
	})
	f.bus = comms.New(store, f.roster, f.queue, provider, f.events)
	f.bus.SetClock(f.clock.Now)
	return f
}

func TestSendDefaultsAndPending(t *testing.T) {
	f := newFixture(t)

	first, err := f.bus.Send(f.ctx, "GROWTH-01", "CONTENT-01", "draft a post", comms.SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if first.Type != comms.TypeNotification || first.Priority != comms.PriorityMedium || first.Status != comms.StatusPending {
		t.Errorf("defaults = %s/%s/%s", first.Type, first.Priority, first.Status)
	}

	f.clock.Advance(time.Second)
	second, err := f.bus.Send(f.ctx, "SOCIAL-01", "CONTENT-01", "need visuals", comms.SendOptions{Type: comms.TypeRequest, Priority: comms.PriorityHigh})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := f.bus.Send(f.ctx, "A", "B", "x", comms.SendOptions{Type: "shout"}); err == nil {
		t.Error("expected unknown message type to be rejected")
	}
	if _, err := f.bus.Send(f.ctx, "", "B", "x", comms.SendOptions{}); err == nil {
		t.Error("expected missing sender to be rejected")
	}

	pending, err := f.bus.Pending(f.ctx, "CONTENT-01")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != second.ID || pending[1].ID != first.ID {
		t.Fatalf("pending = %v, want newest first", pending)
	}
	for _, m := range pending {
		if m.Status != comms.StatusDelivered {
			t.Errorf("message %s status = %s, want delivered", m.ID, m.Status)
		}
	}

	if err := f.bus.MarkRead(f.ctx, first.ID, "CONTENT-01"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := f.bus.MarkRead(f.ctx, first.ID, "SOCIAL-01"); !errors.Is(err, comms.ErrNotFound) {
		t.Errorf("MarkRead by non-recipient: expected ErrNotFound, got %v", err)
	}

	pending, err = f.bus.Pending(f.ctx, "CONTENT-01")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("pending after read = %v", pending)
	}
}

func TestRespond(t *testing.T) {
	f := newFixture(t)

	req, err := f.bus.Send(f.ctx, "GROWTH-01", "ANALYST-01", "what converted best?", comms.SendOptions{Type: comms.TypeRequest, Priority: comms.PriorityHigh})
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	reply, err := f.bus.Respond(f.ctx, req.ID, "ANALYST-01", "the webinar funnel")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.To != "GROWTH-01" || reply.RespondsTo != req.ID || reply.Type != comms.TypeResponse || reply.Priority != comms.PriorityHigh {
		t.Errorf("reply = %+v", reply)
	}

	conv, err := f.bus.Conversation(f.ctx, "GROWTH-01", "ANALYST-01", 0)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(conv) != 2 || conv[0].ID != reply.ID {
		t.Fatalf("conversation = %v", conv)
	}
	if conv[1].Status != comms.StatusResponded {
		t.Errorf("original status = %s, want responded", conv[1].Status)
	}

	if _, err := f.bus.Respond(f.ctx, "missing", "ANALYST-01", "x"); !errors.Is(err, comms.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t)
	if _, err := f.roster.Pause(f.ctx, "LEGAL-01"); err != nil {
		t.Fatal(err)
	}

	n, err := f.bus.Broadcast(f.ctx, roster.Commander, "quarterly goals are out", comms.PriorityHigh, "CODER-01", "ARCHITECT-01")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	// 13 workers minus sender, two excluded and one paused.
	if n != 9 {
		t.Errorf("broadcast reached %d workers, want 9", n)
	}

	for _, code := range []string{"CODER-01", "LEGAL-01", roster.Commander} {
		pending, err := f.bus.Pending(f.ctx, code)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 0 {
			t.Errorf("%s received %d broadcast messages", code, len(pending))
		}
	}

	history, err := f.bus.History(f.ctx, roster.Commander, "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 5 {
		t.Errorf("history limited to %d, want 5", len(history))
	}
}

func TestDelegate(t *testing.T) {
	f := newFixture(t)
	sub := f.events.Subscribe(events.TopicTask, 8)

	own, err := f.queue.Create(f.ctx, queue.Spec{Title: "Grant research", Type: queue.TypeResearch, AssignedTo: "BD-01"})
	if err != nil {
		t.Fatal(err)
	}

	task, msg, err := f.bus.Delegate(f.ctx, "BD-01", "CONTENT-01", comms.DelegationRequest{
		Title:          "Write grant proposal",
		Description:    "Use the research notes",
		Priority:       queue.PriorityCritical,
		RequiredSkills: []string{"writing"},
		FromTaskID:     own.ID,
	})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if task.AssignedTo != "CONTENT-01" || task.CreatedBy != "BD-01" || task.Type != queue.TypeCommunication {
		t.Errorf("task = %+v", task)
	}
	if task.Context.DelegatedBy != "BD-01" || len(task.Metadata.Collaborators) != 1 {
		t.Errorf("task provenance = %+v / %+v", task.Context, task.Metadata)
	}
	if msg.Type != comms.TypeDelegation || msg.Priority != comms.PriorityUrgent || msg.Context["taskId"] != task.ID {
		t.Errorf("message = %+v", msg)
	}

	delegated, err := f.queue.Get(f.ctx, own.ID)
	if err != nil {
		t.Fatal(err)
	}
	if delegated.Status != queue.StatusDelegated {
		t.Errorf("delegator task status = %s, want delegated", delegated.Status)
	}

	select {
	case ev := <-sub:
		created, ok := ev.(events.TaskCreatedEvent)
		if !ok || created.Source != "delegation" || created.ID != task.ID {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no task.created event published")
	}
}

func TestDelegateGuarantees(t *testing.T) {
	f := newFixture(t)
	if _, err := f.roster.Pause(f.ctx, "SOCIAL-01"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		to      string
		req     comms.DelegationRequest
		wantErr error
	}{
		{"unknown target", "NOBODY-01", comms.DelegationRequest{Title: "x"}, comms.ErrTargetUnavailable},
		{"inactive target", "SOCIAL-01", comms.DelegationRequest{Title: "x"}, comms.ErrTargetUnavailable},
		{"task creation fails", "CONTENT-01", comms.DelegationRequest{Title: ""}, queue.ErrInvalidTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, msg, err := f.bus.Delegate(f.ctx, "GROWTH-01", tt.to, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if task != nil || msg != nil {
				t.Errorf("partial result: task %v, message %v", task, msg)
			}
		})
	}

	n, err := f.queue.Count(f.ctx, queue.StatusPending)
	if err != nil || n != 0 {
		t.Errorf("tasks created = %d, %v; want 0", n, err)
	}
	history, err := f.bus.History(f.ctx, "GROWTH-01", "", 0)
	if err != nil || len(history) != 0 {
		t.Errorf("messages sent = %d, %v; want 0", len(history), err)
	}
}

func TestRequestHelp(t *testing.T) {
	f := newFixture(t)

	answer, err := f.bus.RequestHelp(f.ctx, "GROWTH-01", "REVENUE-01", "Which channel should we double down on?",
		map[string]string{"quarter": "Q3", "budget": "small"})
	if err != nil {
		t.Fatalf("RequestHelp: %v", err)
	}
	if answer != "Try the referral angle." {
		t.Errorf("answer = %q", answer)
	}

	f.mu.Lock()
	prompts := append([]backend.Request(nil), f.prompts...)
	f.mu.Unlock()
	if len(prompts) != 1 || prompts[0].Worker != "REVENUE-01" {
		t.Fatalf("prompts = %+v", prompts)
	}
	content := prompts[0].Messages[0].Content
	if !strings.Contains(content, "- budget: small\n- quarter: Q3") {
		t.Errorf("context not rendered in sorted order: %q", content)
	}

	conv, err := f.bus.Conversation(f.ctx, "GROWTH-01", "REVENUE-01", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(conv))
	}
	var request *comms.Message
	for _, m := range conv {
		if m.Type == comms.TypeRequest {
			request = m
		}
	}
	if request == nil || request.Status != comms.StatusResponded {
		t.Errorf("request = %+v, want responded", request)
	}
}

func TestCleanupAndStats(t *testing.T) {
	f := newFixture(t)

	if _, err := f.bus.Send(f.ctx, "A", "B", "old", comms.SendOptions{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(31 * 24 * time.Hour)
	if _, err := f.bus.Send(f.ctx, "B", "A", "new", comms.SendOptions{Type: comms.TypeRequest}); err != nil {
		t.Fatal(err)
	}

	stats, err := f.bus.Stats(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.ByTo["B"] != 1 || stats.ByType[comms.TypeRequest] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	n, err := f.bus.CleanupOldMessages(f.ctx)
	if err != nil || n != 1 {
		t.Errorf("CleanupOldMessages = %d, %v; want 1", n, err)
	}
}
