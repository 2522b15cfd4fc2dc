package events

import (
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func expectNone(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Errorf("unexpected event %s", ev.EventType())
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPublishRoutesByTopic(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	tickCh := bus.Subscribe(TopicTick, 10)

	bus.Publish(TaskDispatchedEvent{ID: "task-1", Worker: "ANALYST-01", Timestamp: time.Now()})
	bus.Publish(TickStartedEvent{TickID: "tick-1", Trigger: "manual", Timestamp: time.Now()})

	if ev := receive(t, taskCh); ev.Subject() != "task-1" || ev.EventType() != EventTypeTaskDispatched {
		t.Errorf("task channel got %s/%s", ev.EventType(), ev.Subject())
	}
	if ev := receive(t, tickCh); ev.Subject() != "tick-1" || ev.EventType() != EventTypeTickStarted {
		t.Errorf("tick channel got %s/%s", ev.EventType(), ev.Subject())
	}
	expectNone(t, taskCh)
	expectNone(t, tickCh)
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskCompletedEvent{ID: "task-2", Result: "done", Duration: time.Second})

	for i, ch := range []<-chan Event{ch1, ch2} {
		if ev := receive(t, ch); ev.Subject() != "task-2" {
			t.Errorf("subscriber %d got subject %q", i+1, ev.Subject())
		}
	}
}

func TestNonBlockingSendCountsDrops(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TaskFailedEvent{ID: "task", Err: errors.New("boom")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked")
	}

	receive(t, ch)
	if got := bus.Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicWorker, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close()

	for _, c := range []<-chan Event{ch, all} {
		for range c {
			t.Error("received event from closed bus")
		}
	}

	late := bus.Subscribe(TopicWorker, 1)
	if _, ok := <-late; ok {
		t.Error("subscription after close should be closed")
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publish after close panicked: %v", r)
		}
	}()
	bus.Publish(BudgetAlertEvent{Level: "critical", Percent: 96})
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	all := bus.SubscribeAll(20)

	published := []Event{
		TaskCreatedEvent{ID: "t1", Source: "chain"},
		MessageSentEvent{ID: "m1", From: "A", To: "B"},
		PipelineProgressEvent{PipelineID: "p1", Completed: 1, Total: 3},
		WorkerHealedEvent{Target: "GROWTH-01", Kind: "error_worker"},
	}
	for _, ev := range published {
		bus.Publish(ev)
	}

	got := make(map[string]bool)
	for range published {
		got[receive(t, all).EventType()] = true
	}
	for _, ev := range published {
		if !got[ev.EventType()] {
			t.Errorf("SubscribeAll missed %s", ev.EventType())
		}
	}
	expectNone(t, all)
}

func TestDiscard(t *testing.T) {
	Discard.Publish(TickFinishedEvent{TickID: "x"})
}
