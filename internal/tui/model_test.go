package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/hq/internal/events"
)

func TestTaskPaneTracksLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	m := NewTaskPaneModel()
	m.SetSize(100, 30)

	m, _ = m.Update(events.TaskDispatchedEvent{ID: "t1", Title: "Write post", Worker: "GROWTH-01", Timestamp: now})
	m, _ = m.Update(events.TaskFailedEvent{ID: "t1", Worker: "GROWTH-01", Err: errors.New("boom"), Requeued: true})

	got, ok := m.Selected()
	if !ok {
		t.Fatal("expected a selected task")
	}
	if got.Status != "requeued" {
		t.Errorf("status = %q, want requeued", got.Status)
	}

	m, _ = m.Update(events.TaskDispatchedEvent{ID: "t1", Title: "Write post", Worker: "GROWTH-01", Timestamp: now.Add(time.Minute)})
	m, _ = m.Update(events.TaskCompletedEvent{ID: "t1", Worker: "GROWTH-01", Result: "done", Cost: 0.25, Duration: 2 * time.Second})

	got, _ = m.Selected()
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Cost != 0.25 {
		t.Errorf("cost = %v, want 0.25", got.Cost)
	}
	if len(m.order) != 1 {
		t.Errorf("redispatch should not add a row, got %d rows", len(m.order))
	}
}

func TestTaskPaneTrimsOldest(t *testing.T) {
	m := NewTaskPaneModel()
	for i := 0; i < maxTasks+5; i++ {
		m, _ = m.Update(events.TaskDispatchedEvent{ID: string(rune('a'+i%26)) + strings.Repeat("x", i), Worker: "CODER-01"})
	}
	if len(m.order) != maxTasks {
		t.Errorf("rows = %d, want %d", len(m.order), maxTasks)
	}
	if len(m.tasks) != maxTasks {
		t.Errorf("tasks = %d, want %d", len(m.tasks), maxTasks)
	}
}

func TestTickPaneCounts(t *testing.T) {
	m := NewTickPaneModel(6)
	m.SetSize(60, 20)

	m, _ = m.Update(events.TickStartedEvent{TickID: "tick-123456789", Trigger: "manual"})
	m, _ = m.Update(events.TaskDispatchedEvent{ID: "a"})
	m, _ = m.Update(events.TaskCompletedEvent{ID: "a"})
	m, _ = m.Update(events.TaskDispatchedEvent{ID: "b"})
	m, _ = m.Update(events.TaskFailedEvent{ID: "b"})

	if m.processed != 2 || m.completed != 1 || m.failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", m.processed, m.completed, m.failed)
	}

	m, _ = m.Update(events.TickFinishedEvent{TickID: "tick-123456789", Status: "completed", Processed: 2, Completed: 1, Failed: 1})
	m, _ = m.Update(events.BudgetAlertEvent{Level: "warning", Percent: 82})

	view := m.View()
	for _, want := range []string{"tick-123", "completed", "warning (82%)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestActivityFeed(t *testing.T) {
	m := NewActivityPaneModel()
	m.SetSize(80, 20)

	m, _ = m.Update(events.WorkerHealedEvent{Target: "CODER-01", Message: "reset stuck worker"})
	m, _ = m.Update(events.TaskDispatchedEvent{ID: "x"}) // not part of the feed
	m, _ = m.Update(events.KnowledgeSharedEvent{From: "ANALYST-01", Recipients: 3, Insight: "shorter prompts work"})

	lines := m.Lines()
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "healed CODER-01") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "shared with 3 worker(s)") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestModelKeys(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	triggered := make(chan struct{}, 1)
	m := New(bus, Options{MaxPerTick: 6, TriggerTick: func() error {
		triggered <- struct{}{}
		return errors.New("tick already in progress")
	}})

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyPane2)})
	m = updated.(Model)
	if m.focusedPane != PaneActivity {
		t.Errorf("focused = %v, want activity", m.focusedPane)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	if m.focusedPane != PaneTick {
		t.Errorf("focused = %v, want tick", m.focusedPane)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyTick)})
	if cmd == nil {
		t.Fatal("expected a command for the tick key")
	}
	msg := runBatch(cmd)
	select {
	case <-triggered:
	default:
		t.Fatal("trigger was not called")
	}

	updated, _ = m.Update(msg)
	m = updated.(Model)
	lines := m.activityPane.Lines()
	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], "tick already in progress") {
		t.Errorf("expected trigger error in feed, got %v", lines)
	}
}

// runBatch runs the first command of a batch and returns its message.
func runBatch(cmd tea.Cmd) tea.Msg {
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			if c != nil {
				return c()
			}
		}
		return nil
	}
	return msg
}
