// Package comms is the worker-to-worker message bus: point-to-point notes,
// replies, broadcasts, help requests and task delegation. It is independent
// of the task queue except for delegation, which creates a task.
package comms

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

var (
	// ErrNotFound is returned when a message id does not resolve for the
	// given recipient.
	ErrNotFound = errors.New("message not found")
	// ErrTargetUnavailable is returned by Delegate when the target worker
	// does not exist or is inactive.
	ErrTargetUnavailable = errors.New("target worker not found or inactive")
)

const (
	// PendingLimit caps how many unread messages Pending returns.
	PendingLimit = 100
	// DefaultHistoryLimit applies when a history query passes no limit.
	DefaultHistoryLimit = 50
	// Retention is how long CleanupOldMessages keeps messages.
	Retention = 30 * 24 * time.Hour
)

// Store is the persistence the bus needs.
type Store interface {
	InsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status Status) error
	ListMessages(ctx context.Context, f Filter) ([]*Message, error)
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int, error)
	MessageStats(ctx context.Context) (Stats, error)
}

// Workers resolves worker codes.
type Workers interface {
	Get(ctx context.Context, code string) (*roster.Worker, error)
	List(ctx context.Context, activeOnly bool) ([]*roster.Worker, error)
}

// Tasks is the slice of the task queue delegation uses.
type Tasks interface {
	Create(ctx context.Context, spec queue.Spec) (*queue.Task, error)
	MarkDelegated(ctx context.Context, id, worker string) (*queue.Task, error)
}

// SendOptions are the optional parts of a message.
type SendOptions struct {
	Type       Type
	Priority   Priority
	RespondsTo string
	Context    map[string]string
}

// DelegationRequest describes work one worker hands to another.
type DelegationRequest struct {
	Title          string
	Description    string
	Priority       queue.Priority
	RequiredSkills []string
	DueAt          time.Time
	// FromTaskID, when set, is the delegator's own task; it is marked
	// delegated once the new task exists.
	FromTaskID string
}

// Bus implements the message operations.
type Bus struct {
	store    Store
	workers  Workers
	tasks    Tasks
	provider backend.Backend
	events   events.Publisher
	now      func() time.Time
	newID    func() string
}

// New creates a bus. provider answers RequestHelp and may be nil when help
// requests are not used; pub may be nil.
func New(store Store, workers Workers, tasks Tasks, provider backend.Backend, pub events.Publisher) *Bus {
	if pub == nil {
		pub = events.Discard
	}
	return &Bus{
		store:    store,
		workers:  workers,
		tasks:    tasks,
		provider: provider,
		events:   pub,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetClock overrides the time source (for tests).
func (b *Bus) SetClock(now func() time.Time) {
	b.now = now
}

// Send stores a new pending message. Type defaults to notification and
// priority to medium.
func (b *Bus) Send(ctx context.Context, from, to, content string, opts SendOptions) (*Message, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("send message: sender and recipient are required")
	}
	if opts.Type == "" {
		opts.Type = TypeNotification
	}
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("send message: unknown type %q", opts.Type)
	}
	if opts.Priority == "" {
		opts.Priority = PriorityMedium
	}

	m := &Message{
		ID:         b.newID(),
		From:       from,
		To:         to,
		Type:       opts.Type,
		Priority:   opts.Priority,
		Content:    content,
		Status:     StatusPending,
		RespondsTo: opts.RespondsTo,
		Context:    opts.Context,
		CreatedAt:  b.now(),
	}
	if err := b.store.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("send message %s -> %s: %w", from, to, err)
	}

	b.events.Publish(events.MessageSentEvent{
		ID:        m.ID,
		From:      from,
		To:        to,
		Type:      string(m.Type),
		Content:   content,
		Timestamp: m.CreatedAt,
	})
	return m, nil
}

// Pending returns the worker's unread messages, newest first. Messages
// still pending are flipped to delivered by this call.
func (b *Bus) Pending(ctx context.Context, worker string) ([]*Message, error) {
	msgs, err := b.store.ListMessages(ctx, Filter{
		To:       worker,
		Statuses: []Status{StatusPending, StatusDelivered},
		Limit:    PendingLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("pending messages for %s: %w", worker, err)
	}
	for _, m := range msgs {
		if m.Status != StatusPending {
			continue
		}
		if err := b.store.UpdateMessageStatus(ctx, m.ID, StatusDelivered); err != nil {
			return nil, fmt.Errorf("mark %s delivered: %w", m.ID, err)
		}
		m.Status = StatusDelivered
	}
	return msgs, nil
}

// get loads a message addressed to worker.
func (b *Bus) get(ctx context.Context, id, worker string) (*Message, error) {
	m, err := b.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.To != worker {
		return nil, fmt.Errorf("%w: %s for %s", ErrNotFound, id, worker)
	}
	return m, nil
}

// MarkRead flips a message addressed to worker to read.
func (b *Bus) MarkRead(ctx context.Context, id, worker string) error {
	if _, err := b.get(ctx, id, worker); err != nil {
		return err
	}
	return b.store.UpdateMessageStatus(ctx, id, StatusRead)
}

// Respond replies to a message addressed to worker. The original becomes
// responded and the reply links back to it.
func (b *Bus) Respond(ctx context.Context, id, worker, content string) (*Message, error) {
	original, err := b.get(ctx, id, worker)
	if err != nil {
		return nil, err
	}
	if err := b.store.UpdateMessageStatus(ctx, id, StatusResponded); err != nil {
		return nil, fmt.Errorf("mark %s responded: %w", id, err)
	}
	return b.Send(ctx, worker, original.From, content, SendOptions{
		Type:       TypeResponse,
		Priority:   original.Priority,
		RespondsTo: id,
		Context:    map[string]string{"originalType": string(original.Type)},
	})
}

// Broadcast sends a notification to every active worker except the sender
// and the excluded codes, and returns how many were sent.
func (b *Bus) Broadcast(ctx context.Context, from, content string, priority Priority, exclude ...string) (int, error) {
	workers, err := b.workers.List(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("broadcast: list workers: %w", err)
	}
	skip := make(map[string]bool, len(exclude)+1)
	skip[from] = true
	for _, code := range exclude {
		skip[code] = true
	}

	sent := 0
	for _, w := range workers {
		if skip[w.Code] {
			continue
		}
		if _, err := b.Send(ctx, from, w.Code, content, SendOptions{Type: TypeNotification, Priority: priority}); err != nil {
			return sent, err
		}
		sent++
	}
	log.Printf("comms: broadcast from %s reached %d workers", from, sent)
	return sent, nil
}

// History returns messages the worker sent or received, optionally only
// those exchanged with peer, newest first.
func (b *Bus) History(ctx context.Context, worker, peer string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return b.store.ListMessages(ctx, Filter{Participant: worker, Peer: peer, Limit: limit})
}

// Conversation returns the messages exchanged between a and b, newest first.
func (b *Bus) Conversation(ctx context.Context, a, c string, limit int) ([]*Message, error) {
	return b.History(ctx, a, c, limit)
}

// Delegate creates a task assigned to the target worker and notifies it.
// No task is created when the target is missing or inactive, and no message
// is sent when task creation fails.
func (b *Bus) Delegate(ctx context.Context, from, to string, req DelegationRequest) (*queue.Task, *Message, error) {
	target, err := b.workers.Get(ctx, to)
	if err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrTargetUnavailable, to)
		}
		return nil, nil, fmt.Errorf("delegate: load %s: %w", to, err)
	}
	if !target.Active {
		return nil, nil, fmt.Errorf("%w: %s", ErrTargetUnavailable, to)
	}

	task, err := b.tasks.Create(ctx, queue.Spec{
		Title:       req.Title,
		Description: req.Description,
		Type:        queue.TypeCommunication,
		Priority:    req.Priority,
		AssignedTo:  to,
		CreatedBy:   from,
		DueAt:       req.DueAt,
		Metadata:    queue.Metadata{Collaborators: []string{from}},
		Context: queue.ExecContext{
			DelegatedBy:    from,
			RequiredSkills: req.RequiredSkills,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("delegate to %s: %w", to, err)
	}
	b.events.Publish(events.TaskCreatedEvent{
		ID:        task.ID,
		Title:     task.Title,
		Worker:    to,
		Source:    "delegation",
		Timestamp: b.now(),
	})

	if req.FromTaskID != "" {
		if _, err := b.tasks.MarkDelegated(ctx, req.FromTaskID, to); err != nil {
			log.Printf("WARNING: comms: mark task %s delegated: %v", req.FromTaskID, err)
		}
	}

	priority := PriorityHigh
	if req.Priority >= queue.PriorityCritical {
		priority = PriorityUrgent
	}
	msg, err := b.Send(ctx, from, to, "I'm delegating a task to you: "+req.Title, SendOptions{
		Type:     TypeDelegation,
		Priority: priority,
		Context: map[string]string{
			"taskId":          task.ID,
			"taskTitle":       req.Title,
			"taskDescription": req.Description,
		},
	})
	if err != nil {
		return task, nil, err
	}
	log.Printf("comms: task %s delegated %s -> %s", task.ID, from, to)
	return task, msg, nil
}

// RequestHelp asks another worker a question through the completion
// provider and records both sides of the exchange as messages.
func (b *Bus) RequestHelp(ctx context.Context, from, to, question string, details map[string]string) (string, error) {
	if b.provider == nil {
		return "", fmt.Errorf("request help: no provider configured")
	}
	req, err := b.Send(ctx, from, to, question, SendOptions{Type: TypeRequest, Priority: PriorityMedium, Context: details})
	if err != nil {
		return "", err
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "%s is asking for your help:\n\n%s", from, question)
	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		prompt.WriteString("\n\nContext:")
		for _, k := range keys {
			fmt.Fprintf(&prompt, "\n- %s: %s", k, details[k])
		}
	}
	fmt.Fprintf(&prompt, "\n\nMessage ID: %s", req.ID)

	resp, err := b.provider.Complete(ctx, backend.Prompt(to, "", prompt.String()))
	if err != nil {
		return "", fmt.Errorf("request help from %s: %w", to, err)
	}

	if _, err := b.Send(ctx, to, from, resp.Content, SendOptions{
		Type:       TypeResponse,
		Priority:   PriorityMedium,
		RespondsTo: req.ID,
	}); err != nil {
		return resp.Content, err
	}
	if err := b.store.UpdateMessageStatus(ctx, req.ID, StatusResponded); err != nil {
		return resp.Content, fmt.Errorf("mark %s responded: %w", req.ID, err)
	}
	return resp.Content, nil
}

// CleanupOldMessages deletes messages older than Retention.
func (b *Bus) CleanupOldMessages(ctx context.Context) (int, error) {
	n, err := b.store.DeleteMessagesBefore(ctx, b.now().Add(-Retention))
	if err != nil {
		return 0, fmt.Errorf("cleanup messages: %w", err)
	}
	if n > 0 {
		log.Printf("comms: removed %d messages older than %s", n, Retention)
	}
	return n, nil
}

// Stats returns message counts by recipient and type.
func (b *Bus) Stats(ctx context.Context) (Stats, error) {
	return b.store.MessageStats(ctx)
}
