package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a task id does not resolve.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the task's current status.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrInvalidTask is returned by Create for malformed specs.
	ErrInvalidTask = errors.New("invalid task")
)

// Order selects the sort order of ListTasks results.
type Order int

const (
	OrderPriority  Order = iota // priority desc, created asc
	OrderNewest                 // created desc
	OrderCompleted              // completed desc
)

// Filter narrows ListTasks. Zero values mean "no constraint".
type Filter struct {
	Statuses       []Status
	AssignedTo     string
	AssignableTo   string // assigned to this worker or unassigned
	ParentID       string
	ActiveOnly     bool
	CreatedAfter   time.Time
	StartedBefore  time.Time
	CompletedAfter time.Time
	Order          Order
	Limit          int
}

// Store is the persistence the queue needs.
type Store interface {
	InsertTask(ctx context.Context, task *Task) error
	UpdateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	GetTasks(ctx context.Context, ids []string) ([]*Task, error)
	ListTasks(ctx context.Context, f Filter) ([]*Task, error)
	CountTasks(ctx context.Context, f Filter) (int, error)
	SumTaskCost(ctx context.Context, since time.Time) (float64, error)
}

// Completion carries the outcome of a successful execution.
type Completion struct {
	Result     string
	Cost       *float64
	Model      string
	TokensUsed int
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) { q.newID = gen }
}

// Queue owns every task status transition. Transitions are serialized so a
// task can never be assigned twice.
type Queue struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
	newID func() string
}

// New creates a queue on top of store.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Create validates spec and inserts it as a pending task.
func (q *Queue) Create(ctx context.Context, spec Spec) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.create(ctx, spec)
}

// CreateSubtask creates a task whose parent is parentID.
func (q *Queue) CreateSubtask(ctx context.Context, parentID string, spec Spec) (*Task, error) {
	spec.ParentID = parentID
	spec.Context.ParentTaskID = parentID
	return q.Create(ctx, spec)
}

func (q *Queue) create(ctx context.Context, spec Spec) (*Task, error) {
	if err := q.validate(ctx, spec); err != nil {
		return nil, err
	}

	maxRetries := DefaultMaxRetries
	if spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}

	id := spec.ID
	if id == "" {
		id = q.newID()
	}

	now := q.now()
	task := &Task{
		ID:          id,
		Title:       spec.Title,
		Description: spec.Description,
		Type:        spec.Type,
		Priority:    spec.Priority,
		Status:      StatusPending,
		AssignedTo:  spec.AssignedTo,
		CreatedBy:   spec.CreatedBy,
		ParentID:    spec.ParentID,
		DependsOn:   append([]string(nil), spec.DependsOn...),
		CreatedAt:   now,
		UpdatedAt:   now,
		DueAt:       spec.DueAt,
		MaxRetries:  maxRetries,
		Active:      true,
		Metadata:    spec.Metadata,
		Context:     spec.Context,
	}

	if err := q.store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task.Clone(), nil
}

func (q *Queue) validate(ctx context.Context, spec Spec) error {
	if spec.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if !spec.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTask, spec.Type)
	}
	if !spec.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %d", ErrInvalidTask, spec.Priority)
	}
	if spec.MaxRetries != nil && *spec.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidTask)
	}

	if len(spec.DependsOn) > 0 {
		seen := make(map[string]bool, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			if dep == "" || (spec.ID != "" && dep == spec.ID) {
				return fmt.Errorf("%w: task cannot depend on itself", ErrInvalidTask)
			}
			if seen[dep] {
				return fmt.Errorf("%w: duplicate dependency %q", ErrInvalidTask, dep)
			}
			seen[dep] = true
		}
		deps, err := q.store.GetTasks(ctx, spec.DependsOn)
		if err != nil {
			return fmt.Errorf("load dependencies: %w", err)
		}
		if len(deps) != len(spec.DependsOn) {
			found := make(map[string]bool, len(deps))
			for _, d := range deps {
				found[d.ID] = true
			}
			for _, dep := range spec.DependsOn {
				if !found[dep] {
					return fmt.Errorf("%w: dependency %q does not exist", ErrInvalidTask, dep)
				}
			}
		}
	}

	if spec.ParentID != "" {
		if _, err := q.store.GetTask(ctx, spec.ParentID); err != nil {
			return fmt.Errorf("%w: parent %q: %v", ErrInvalidTask, spec.ParentID, err)
		}
	}
	return nil
}

// ExecutableTasks returns pending, active tasks whose dependencies have all
// completed, ordered by priority (highest first) then age (oldest first).
// A non-empty worker narrows the result to tasks assigned to that worker or
// not assigned at all. limit <= 0 means no limit.
func (q *Queue) ExecutableTasks(ctx context.Context, worker string, limit int) ([]*Task, error) {
	pending, err := q.store.ListTasks(ctx, Filter{
		Statuses:     []Status{StatusPending},
		AssignableTo: worker,
		ActiveOnly:   true,
		Order:        OrderPriority,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}

	var depIDs []string
	seen := make(map[string]bool)
	for _, t := range pending {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				seen[dep] = true
				depIDs = append(depIDs, dep)
			}
		}
	}

	depStatus := make(map[string]Status, len(depIDs))
	if len(depIDs) > 0 {
		deps, err := q.store.GetTasks(ctx, depIDs)
		if err != nil {
			return nil, fmt.Errorf("load dependencies: %w", err)
		}
		for _, d := range deps {
			depStatus[d.ID] = d.Status
		}
	}

	var out []*Task
	for _, t := range pending {
		if !dependenciesMet(t, depStatus) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// dependenciesMet reports whether every dependency is known and completed.
func dependenciesMet(t *Task, status map[string]Status) bool {
	for _, dep := range t.DependsOn {
		s, ok := status[dep]
		if !ok || s != StatusCompleted {
			return false
		}
	}
	return true
}

// Assign binds a pending task to worker and stamps its start time.
func (q *Queue) Assign(ctx context.Context, id, worker string) (*Task, error) {
	if worker == "" {
		return nil, fmt.Errorf("%w: worker is required", ErrInvalidTransition)
	}
	return q.transition(ctx, id, func(t *Task, now time.Time) error {
		if t.Status != StatusPending {
			return fmt.Errorf("%w: assign %s task %s", ErrInvalidTransition, t.Status, t.ID)
		}
		t.Status = StatusAssigned
		t.AssignedTo = worker
		t.StartedAt = now
		return nil
	})
}

// Start moves a pending or assigned task to in_progress.
func (q *Queue) Start(ctx context.Context, id string) (*Task, error) {
	return q.transition(ctx, id, func(t *Task, now time.Time) error {
		if t.Status != StatusPending && t.Status != StatusAssigned {
			return fmt.Errorf("%w: start %s task %s", ErrInvalidTransition, t.Status, t.ID)
		}
		t.Status = StatusInProgress
		t.StartedAt = now
		return nil
	})
}

// Complete marks a task completed and re-evaluates its parent, if any.
func (q *Queue) Complete(ctx context.Context, id string, c Completion) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("%w: complete %s task %s", ErrInvalidTransition, task.Status, id)
	}

	now := q.now()
	task.Status = StatusCompleted
	task.Result = c.Result
	task.Error = ""
	task.CompletedAt = now
	task.UpdatedAt = now
	if c.Cost != nil {
		task.Cost = *c.Cost
	}
	if c.Model != "" {
		task.Metadata.Model = c.Model
	}
	if c.TokensUsed > 0 {
		task.Metadata.TokensUsed = c.TokensUsed
	}
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if task.ParentID != "" {
		if err := q.reevaluateParent(ctx, task.ParentID); err != nil {
			return nil, err
		}
	}
	return task.Clone(), nil
}

// Fail records a failed execution. With retry set and attempts remaining the
// task is re-queued as pending with its retry count incremented; otherwise it
// becomes terminally failed and its parent is re-evaluated.
func (q *Queue) Fail(ctx context.Context, id, errText string, retry bool) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("%w: fail %s task %s", ErrInvalidTransition, task.Status, id)
	}

	now := q.now()
	task.Error = errText
	task.UpdatedAt = now
	requeued := retry && task.RetryCount < task.MaxRetries
	if requeued {
		task.Status = StatusPending
		task.RetryCount++
		task.StartedAt = time.Time{}
	} else {
		task.Status = StatusFailed
		task.CompletedAt = now
	}
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if !requeued && task.ParentID != "" {
		if err := q.reevaluateParent(ctx, task.ParentID); err != nil {
			return nil, err
		}
	}
	return task.Clone(), nil
}

// Block parks a task until its subtasks settle.
func (q *Queue) Block(ctx context.Context, id string) (*Task, error) {
	return q.transition(ctx, id, func(t *Task, _ time.Time) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: block %s task %s", ErrInvalidTransition, t.Status, t.ID)
		}
		t.Status = StatusBlocked
		return nil
	})
}

// MarkDelegated records that the task was handed to worker by a delegation flow.
func (q *Queue) MarkDelegated(ctx context.Context, id, worker string) (*Task, error) {
	return q.transition(ctx, id, func(t *Task, _ time.Time) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: delegate %s task %s", ErrInvalidTransition, t.Status, t.ID)
		}
		t.Status = StatusDelegated
		t.AssignedTo = worker
		return nil
	})
}

// ResetStuck returns in_progress tasks started before cutoff to pending with
// note recorded as their error text.
func (q *Queue) ResetStuck(ctx context.Context, cutoff time.Time, note string) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stuck, err := q.store.ListTasks(ctx, Filter{
		Statuses:      []Status{StatusInProgress},
		StartedBefore: cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("list stuck tasks: %w", err)
	}

	now := q.now()
	var reset []*Task
	for _, t := range stuck {
		if t.StartedAt.IsZero() {
			continue
		}
		t.Status = StatusPending
		t.Error = note
		t.UpdatedAt = now
		if err := q.store.UpdateTask(ctx, t); err != nil {
			return reset, fmt.Errorf("reset task %s: %w", t.ID, err)
		}
		reset = append(reset, t.Clone())
	}
	return reset, nil
}

// Get returns a task by id.
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	return q.store.GetTask(ctx, id)
}

// List returns tasks matching f.
func (q *Queue) List(ctx context.Context, f Filter) ([]*Task, error) {
	return q.store.ListTasks(ctx, f)
}

// Subtasks returns the children of parentID.
func (q *Queue) Subtasks(ctx context.Context, parentID string) ([]*Task, error) {
	return q.store.ListTasks(ctx, Filter{ParentID: parentID, Order: OrderNewest})
}

// Count returns the number of active tasks in any of the given statuses.
func (q *Queue) Count(ctx context.Context, statuses ...Status) (int, error) {
	return q.store.CountTasks(ctx, Filter{Statuses: statuses, ActiveOnly: true})
}

// transition loads a task, applies fn and persists the result.
func (q *Queue) transition(ctx context.Context, id string, fn func(*Task, time.Time) error) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := q.now()
	if err := fn(task, now); err != nil {
		return nil, err
	}
	task.UpdatedAt = now
	if err := q.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return task.Clone(), nil
}

// reevaluateParent aggregates subtask outcomes into the parent: any failed
// subtask blocks it, all completed completes it. Caller holds q.mu.
func (q *Queue) reevaluateParent(ctx context.Context, parentID string) error {
	parent, err := q.store.GetTask(ctx, parentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load parent: %w", err)
	}
	if parent.Status.Terminal() {
		return nil
	}

	children, err := q.store.ListTasks(ctx, Filter{ParentID: parentID})
	if err != nil {
		return fmt.Errorf("list subtasks: %w", err)
	}
	if len(children) == 0 {
		return nil
	}

	completed := 0
	failed := false
	for _, c := range children {
		switch c.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed = true
		}
	}

	now := q.now()
	switch {
	case failed:
		if parent.Status == StatusBlocked {
			return nil
		}
		parent.Status = StatusBlocked
	case completed == len(children):
		parent.Status = StatusCompleted
		parent.CompletedAt = now
		if parent.Result == "" {
			parent.Result = fmt.Sprintf("Completed via %d subtasks", len(children))
		}
	default:
		return nil
	}
	parent.UpdatedAt = now
	if err := q.store.UpdateTask(ctx, parent); err != nil {
		return fmt.Errorf("update parent: %w", err)
	}

	if parent.Status == StatusCompleted && parent.ParentID != "" {
		return q.reevaluateParent(ctx, parent.ParentID)
	}
	return nil
}
