package learning_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/hq/internal/comms"
	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/learning"
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

type note struct {
	from, to, content string
	priority          comms.Priority
}

type recordingMessenger struct {
	mu    sync.Mutex
	notes []note
	fail  map[string]bool
}

func (m *recordingMessenger) Send(_ context.Context, from, to, content string, opts comms.SendOptions) (*comms.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[to] {
		return nil, errors.New("mailbox full")
	}
	m.notes = append(m.notes, note{from: from, to: to, content: content, priority: opts.Priority})
	return &comms.Message{From: from, To: to, Content: content}, nil
}

func (m *recordingMessenger) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, n := range m.notes {
		out = append(out, n.to)
	}
	sort.Strings(out)
	return out
}

type fixture struct {
	ctx       context.Context
	clock     *testClock
	queue     *queue.Queue
	roster    *roster.Roster
	messenger *recordingMessenger
	events    *events.EventBus
	learner   *learning.Learner
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
		ctx:       ctx,
		clock:     &testClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
		messenger: &recordingMessenger{},
		events:    events.NewEventBus(),
	}
	t.Cleanup(f.events.Close)

	f.queue = queue.New(store, queue.WithClock(f.clock.Now))
	f.roster = roster.New(store)
	if err := f.roster.Seed(ctx, roster.DefaultWorkers()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.learner = learning.New(f.queue, f.roster, f.messenger, f.events)
	f.learner.SetClock(f.clock.Now)
	return f
}

// run creates a task for worker and drives it to completion or failure.
func (f *fixture) run(t *testing.T, worker string, typ queue.Type, title, result string, took time.Duration, fail bool) *queue.Task {
	t.Helper()
	task, err := f.queue.Create(f.ctx, queue.Spec{Title: title, Type: typ, AssignedTo: worker})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.queue.Start(f.ctx, task.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Advance(took)
	if fail {
		task, err = f.queue.Fail(f.ctx, task.ID, result, false)
	} else {
		cost := 0.25
		task, err = f.queue.Complete(f.ctx, task.ID, queue.Completion{Result: result, Cost: &cost})
	}
	if err != nil {
		t.Fatalf("finish %s: %v", title, err)
	}
	return task
}

const longResult = "We reviewed conversion across all acquisition channels this week. " +
	"We recommend doubling the referral credit because it converts three times better than paid search. " +
	"Paid social was flat and display advertising declined slightly over the period. " +
	"No tracking gaps were observed in the analytics pipeline during the review window."

func TestLearnFromTask(t *testing.T) {
	f := newFixture(t)
	task := f.run(t, "REVENUE-01", queue.TypeAnalysis, "Channel review", longResult, 10*time.Second, false)

	in, err := f.learner.LearnFromTask(f.ctx, task.ID)
	if err != nil {
		t.Fatalf("LearnFromTask: %v", err)
	}
	if in == nil {
		t.Fatal("expected an insight")
	}
	if !strings.HasPrefix(in.Text, "We recommend doubling the referral credit") {
		t.Errorf("insight = %q", in.Text)
	}
	if in.Worker != "REVENUE-01" || in.TaskType != queue.TypeAnalysis {
		t.Errorf("insight header = %+v", in)
	}
	if in.Confidence < 0.59 || in.Confidence > 0.61 {
		t.Errorf("confidence = %v, want 0.6", in.Confidence)
	}
	if notes := f.learner.Notes("REVENUE-01", 5); len(notes) != 1 || notes[0] != in.Text {
		t.Errorf("notes = %v", notes)
	}

	pending, err := f.queue.Create(f.ctx, queue.Spec{Title: "not done", Type: queue.TypeAnalysis})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if in, err := f.learner.LearnFromTask(f.ctx, pending.ID); in != nil || err != nil {
		t.Errorf("pending task: insight %v, err %v", in, err)
	}
	if _, err := f.learner.LearnFromTask(f.ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("missing task err = %v", err)
	}
}

func TestLearnFromFailure(t *testing.T) {
	f := newFixture(t)
	failed := f.run(t, "GROWTH-01", queue.TypeMarketing, "Launch campaign", "provider refused the request", time.Second, true)
	if err := f.learner.LearnFromFailure(f.ctx, failed.ID); err != nil {
		t.Fatalf("LearnFromFailure: %v", err)
	}
	done := f.run(t, "GROWTH-01", queue.TypeMarketing, "Other", "fine", time.Second, false)
	if err := f.learner.LearnFromFailure(f.ctx, done.ID); err != nil {
		t.Fatalf("LearnFromFailure: %v", err)
	}

	notes := f.learner.Notes("GROWTH-01", 0)
	if len(notes) != 1 || notes[0] != "Failed: Launch campaign: provider refused the request" {
		t.Errorf("notes = %v", notes)
	}
}

func TestShareDefaultsToActiveTeam(t *testing.T) {
	f := newFixture(t)
	sub := f.events.Subscribe(events.TopicComms, 4)
	if _, err := f.roster.Pause(f.ctx, "LEGAL-01"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	f.messenger.fail = map[string]bool{"CODER-01": true}

	s, err := f.learner.Share(f.ctx, "SECURITY-01", "Rotate the API keys", learning.KindWarning)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	// 13 workers, minus the sender, the paused worker and the failed delivery.
	if len(s.To) != 10 {
		t.Errorf("delivered to %d workers: %v", len(s.To), s.To)
	}
	for _, n := range f.messenger.notes {
		if n.priority != comms.PriorityHigh || n.content != "[warning] Rotate the API keys" {
			t.Errorf("note = %+v", n)
		}
	}

	select {
	case ev := <-sub:
		ks, ok := ev.(events.KnowledgeSharedEvent)
		if !ok || ks.From != "SECURITY-01" || ks.Recipients != 10 {
			t.Errorf("event = %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no knowledge.shared event")
	}
}

func TestAutoShare(t *testing.T) {
	f := newFixture(t)
	if _, err := f.roster.Pause(f.ctx, "CONTENT-01"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	analysis := f.run(t, "REVENUE-01", queue.TypeAnalysis, "Channel review", longResult, time.Minute, false)
	f.run(t, "GROWTH-01", queue.TypeMarketing, "Short note", "Posted the update. Nothing notable to report today at all.", time.Minute, false)
	f.run(t, "CODER-01", queue.TypeDevelopment, "Fix login", longResult, time.Minute, true)

	n, err := f.learner.AutoShare(f.ctx)
	if err != nil {
		t.Fatalf("AutoShare: %v", err)
	}
	if n != 1 {
		t.Fatalf("shared %d, want 1", n)
	}
	// analysis goes to analyst and growth roles, minus the author and the paused worker
	want := []string{"ANALYST-01", "GROWTH-01", "SOCIAL-01"}
	if got := f.messenger.recipients(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("recipients = %v, want %v", got, want)
	}
	hist := f.learner.History(0)
	if len(hist) != 1 || hist[0].TaskID != analysis.ID || hist[0].Kind != learning.KindInsight {
		t.Fatalf("history = %+v", hist)
	}
	if !strings.HasPrefix(hist[0].Content, `From task "Channel review": We recommend`) {
		t.Errorf("content = %q", hist[0].Content)
	}

	if n, err := f.learner.AutoShare(f.ctx); err != nil || n != 0 {
		t.Errorf("second AutoShare = %d, %v; want no duplicate", n, err)
	}

	f.clock.Advance(2 * time.Hour)
	f.run(t, "CODER-01", queue.TypeDevelopment, "Refactor auth", longResult, time.Minute, false)
	if n, err := f.learner.AutoShare(f.ctx); err != nil || n != 1 {
		t.Fatalf("third AutoShare = %d, %v", n, err)
	}
	if hist := f.learner.History(1); hist[0].To[0] != roster.Architect {
		t.Errorf("development insight went to %v", hist[0].To)
	}
}

func TestHistoryCapped(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 105; i++ {
		if _, err := f.learner.Share(f.ctx, "ANALYST-01", "tip", learning.KindBestPractice, "GROWTH-01"); err != nil {
			t.Fatalf("Share: %v", err)
		}
	}
	if got := len(f.learner.History(500)); got != 100 {
		t.Errorf("history length = %d, want 100", got)
	}
	if got := len(f.learner.History(0)); got != 20 {
		t.Errorf("default history length = %d, want 20", got)
	}
}

func TestSkillProfile(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.run(t, "ANALYST-01", queue.TypeAnalysis, "analysis", "ok", 10*time.Second, false)
	}
	f.run(t, "ANALYST-01", queue.TypeResearch, "research", "ok", 20*time.Second, false)
	f.run(t, "ANALYST-01", queue.TypeResearch, "research", "boom", time.Second, true)
	f.run(t, "ANALYST-01", queue.TypeResearch, "research", "boom", time.Second, true)
	f.run(t, "GROWTH-01", queue.TypeAnalysis, "other worker", "ok", time.Second, false)

	p, err := f.learner.SkillProfile(f.ctx, "ANALYST-01")
	if err != nil {
		t.Fatalf("SkillProfile: %v", err)
	}
	if p.Completed != 4 || p.Failed != 2 {
		t.Errorf("completed/failed = %d/%d", p.Completed, p.Failed)
	}
	if p.SuccessRate != 0.67 {
		t.Errorf("success rate = %v", p.SuccessRate)
	}
	if len(p.Strong) != 1 || p.Strong[0].Type != queue.TypeAnalysis || p.Strong[0].Count != 3 {
		t.Errorf("strong = %+v", p.Strong)
	}
	if len(p.Weak) != 1 || p.Weak[0].Type != queue.TypeResearch {
		t.Errorf("weak = %+v", p.Weak)
	}
	if p.AvgResponseTime != 12500*time.Millisecond {
		t.Errorf("avg response = %v", p.AvgResponseTime)
	}
	if p.TotalCost != 1.0 {
		t.Errorf("total cost = %v", p.TotalCost)
	}

	if _, err := f.learner.SkillProfile(f.ctx, "NOBODY"); !errors.Is(err, roster.ErrNotFound) {
		t.Errorf("unknown worker err = %v", err)
	}

	// Tasks older than the window drop out.
	f.clock.Advance(31 * 24 * time.Hour)
	p, err = f.learner.SkillProfile(f.ctx, "ANALYST-01")
	if err != nil {
		t.Fatalf("SkillProfile: %v", err)
	}
	if p.Completed != 0 || p.SuccessRate != 1 {
		t.Errorf("stale profile = %+v", p)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		f.run(t, "CODER-01", queue.TypeDevelopment, "build", "ok", time.Second, false)
		f.run(t, "ARCHITECT-01", queue.TypeDevelopment, "build", "ok", time.Second, false)
	}
	f.run(t, "ARCHITECT-01", queue.TypePlanning, "plan", "ok", time.Second, false)
	if _, err := f.learner.Share(f.ctx, "CODER-01", "Use the new build cache", learning.KindSkill, "ARCHITECT-01"); err != nil {
		t.Fatalf("Share: %v", err)
	}

	s, err := f.learner.Summary(f.ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Strengths[queue.TypeDevelopment] != 2 {
		t.Errorf("strengths = %v", s.Strengths)
	}
	if len(s.TopLearners) != 5 || s.TopLearners[0] != "ARCHITECT-01" || s.TopLearners[1] != "CODER-01" {
		t.Errorf("top learners = %v", s.TopLearners)
	}
	if s.Shares != 1 || len(s.Recent) != 1 || s.Recent[0] != "CODER-01: Use the new build cache" {
		t.Errorf("shares = %d, recent = %v", s.Shares, s.Recent)
	}
}
