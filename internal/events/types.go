package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	// Subject is the id the event is about: a task id, worker code, tick id
	// or pipeline id.
	Subject() string
}

// Topic constants
const (
	TopicTick     = "tick"
	TopicTask     = "task"
	TopicWorker   = "worker"
	TopicComms    = "comms"
	TopicBudget   = "budget"
	TopicPipeline = "pipeline"
)

// Event type constants
const (
	EventTypeTickStarted      = "tick.started"
	EventTypeTickFinished     = "tick.finished"
	EventTypeTaskCreated      = "task.created"
	EventTypeTaskDispatched   = "task.dispatched"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeWorkerHealed     = "worker.healed"
	EventTypeMessageSent      = "comms.message"
	EventTypeKnowledgeShared  = "comms.knowledge"
	EventTypeBudgetAlert      = "budget.alert"
	EventTypePipelineProgress = "pipeline.progress"
)

// TickStartedEvent is published when a tick begins.
type TickStartedEvent struct {
	TickID    string
	Trigger   string
	Timestamp time.Time
}

func (e TickStartedEvent) EventType() string { return EventTypeTickStarted }
func (e TickStartedEvent) Topic() string     { return TopicTick }
func (e TickStartedEvent) Subject() string   { return e.TickID }

// TickFinishedEvent is published when a tick is finalized.
type TickFinishedEvent struct {
	TickID    string
	Status    string
	Processed int
	Completed int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TickFinishedEvent) EventType() string { return EventTypeTickFinished }
func (e TickFinishedEvent) Topic() string     { return TopicTick }
func (e TickFinishedEvent) Subject() string   { return e.TickID }

// TaskCreatedEvent is published when the engine creates work on its own.
type TaskCreatedEvent struct {
	ID        string
	Title     string
	Worker    string
	Source    string // generation, strategy, chain, pipeline, decomposition, delegation
	Timestamp time.Time
}

func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) Topic() string     { return TopicTask }
func (e TaskCreatedEvent) Subject() string   { return e.ID }

// TaskDispatchedEvent is published when a task is handed to a worker.
type TaskDispatchedEvent struct {
	ID        string
	Title     string
	Worker    string
	Timestamp time.Time
}

func (e TaskDispatchedEvent) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatchedEvent) Topic() string     { return TopicTask }
func (e TaskDispatchedEvent) Subject() string   { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Worker    string
	Result    string
	Cost      float64
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) Subject() string   { return e.ID }

// TaskFailedEvent is published when a dispatch fails.
type TaskFailedEvent struct {
	ID        string
	Worker    string
	Err       error
	Requeued  bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) Subject() string   { return e.ID }

// WorkerHealedEvent is published for every auto-heal repair.
type WorkerHealedEvent struct {
	Target    string
	Kind      string
	Message   string
	Timestamp time.Time
}

func (e WorkerHealedEvent) EventType() string { return EventTypeWorkerHealed }
func (e WorkerHealedEvent) Topic() string     { return TopicWorker }
func (e WorkerHealedEvent) Subject() string   { return e.Target }

// MessageSentEvent is published for every bus message.
type MessageSentEvent struct {
	ID        string
	From      string
	To        string
	Type      string
	Content   string
	Timestamp time.Time
}

func (e MessageSentEvent) EventType() string { return EventTypeMessageSent }
func (e MessageSentEvent) Topic() string     { return TopicComms }
func (e MessageSentEvent) Subject() string   { return e.ID }

// KnowledgeSharedEvent is published when a learning is broadcast.
type KnowledgeSharedEvent struct {
	TaskID     string
	From       string
	Recipients int
	Insight    string
	Timestamp  time.Time
}

func (e KnowledgeSharedEvent) EventType() string { return EventTypeKnowledgeShared }
func (e KnowledgeSharedEvent) Topic() string     { return TopicComms }
func (e KnowledgeSharedEvent) Subject() string   { return e.TaskID }

// BudgetAlertEvent is published when global spend changes level.
type BudgetAlertEvent struct {
	Level     string
	Percent   float64
	Timestamp time.Time
}

func (e BudgetAlertEvent) EventType() string { return EventTypeBudgetAlert }
func (e BudgetAlertEvent) Topic() string     { return TopicBudget }
func (e BudgetAlertEvent) Subject() string   { return e.Level }

// PipelineProgressEvent is published when a pipeline stage starts or the
// pipeline completes.
type PipelineProgressEvent struct {
	PipelineID string
	Name       string
	Status     string
	Completed  int
	Total      int
	Timestamp  time.Time
}

func (e PipelineProgressEvent) EventType() string { return EventTypePipelineProgress }
func (e PipelineProgressEvent) Topic() string     { return TopicPipeline }
func (e PipelineProgressEvent) Subject() string   { return e.PipelineID }
