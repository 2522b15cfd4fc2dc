// Package learning turns finished tasks into insights and spreads them to
// the workers that can use them.
package learning

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aristath/hq/internal/comms"
	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

const (
	fastCompletion   = 30 * time.Second
	shareWindow      = time.Hour
	shareScanLimit   = 5
	minShareRunes    = 200
	historyCap       = 100
	notesPerWorker   = 20
	profileWindow    = 30 * 24 * time.Hour
	profileInsights  = 5
	failureNoteRunes = 100
)

// Kind classifies shared knowledge.
type Kind string

const (
	KindInsight      Kind = "insight"
	KindSkill        Kind = "skill"
	KindWarning      Kind = "warning"
	KindBestPractice Kind = "best_practice"
)

// Tasks is the task access the learner needs.
type Tasks interface {
	Get(ctx context.Context, id string) (*queue.Task, error)
	List(ctx context.Context, f queue.Filter) ([]*queue.Task, error)
}

// Workers is the roster access the learner needs.
type Workers interface {
	Get(ctx context.Context, code string) (*roster.Worker, error)
	List(ctx context.Context, activeOnly bool) ([]*roster.Worker, error)
}

// Messenger delivers shared knowledge.
type Messenger interface {
	Send(ctx context.Context, from, to, content string, opts comms.SendOptions) (*comms.Message, error)
}

// Insight is a learning extracted from a completed task.
type Insight struct {
	Worker     string
	TaskID     string
	TaskType   queue.Type
	Text       string
	Confidence float64
	Tags       []string
	CreatedAt  time.Time
}

// Share records one knowledge broadcast.
type Share struct {
	ID      string
	From    string
	To      []string
	Kind    Kind
	Content string
	TaskID  string // source task for automatic shares
	At      time.Time
}

// Learner keeps the recent learnings of each worker and the share history.
// State is in memory and lost on restart.
type Learner struct {
	tasks     Tasks
	workers   Workers
	messenger Messenger
	events    events.Publisher
	now       func() time.Time

	mu      sync.Mutex
	notes   map[string][]string
	history []Share
}

// New creates a learner.
func New(tasks Tasks, workers Workers, messenger Messenger, pub events.Publisher) *Learner {
	if pub == nil {
		pub = events.Discard
	}
	return &Learner{
		tasks:     tasks,
		workers:   workers,
		messenger: messenger,
		events:    pub,
		now:       time.Now,
		notes:     make(map[string][]string),
	}
}

// SetClock overrides the time source. For tests.
func (l *Learner) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Learner) remember(worker, note string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	notes := append(l.notes[worker], note)
	if len(notes) > notesPerWorker {
		notes = notes[len(notes)-notesPerWorker:]
	}
	l.notes[worker] = notes
}

// Notes returns up to limit of the worker's most recent learnings, newest
// first.
func (l *Learner) Notes(worker string, limit int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	notes := l.notes[worker]
	if limit > 0 && len(notes) > limit {
		notes = notes[len(notes)-limit:]
	}
	out := make([]string, len(notes))
	for i, n := range notes {
		out[len(notes)-1-i] = n
	}
	return out
}

// LearnFromTask extracts an insight from a completed task and files it
// under the assignee. It returns nil without error when the task is not
// completed or its result holds nothing worth keeping.
func (l *Learner) LearnFromTask(ctx context.Context, taskID string) (*Insight, error) {
	t, err := l.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("learn from task %s: %w", taskID, err)
	}
	if t.Status != queue.StatusCompleted || t.Result == "" {
		return nil, nil
	}
	text := ExtractInsight(t.Result)
	if text == "" {
		return nil, nil
	}

	worker := t.AssignedTo
	if worker == "" {
		worker = "UNKNOWN"
	}
	in := &Insight{
		Worker:     worker,
		TaskID:     t.ID,
		TaskType:   t.Type,
		Text:       text,
		Confidence: Confidence(t),
		Tags:       []string{string(t.Type), worker},
		CreatedAt:  l.now(),
	}
	l.remember(worker, text)
	log.Printf("learning: %s learned from %q: %s", worker, t.Title, truncate(text, 80))
	return in, nil
}

// LearnFromFailure files a lesson for the assignee of a terminally failed
// task. Other tasks are ignored.
func (l *Learner) LearnFromFailure(ctx context.Context, taskID string) error {
	t, err := l.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("learn from failure %s: %w", taskID, err)
	}
	if t.Status != queue.StatusFailed {
		return nil
	}
	reason := t.Error
	if reason == "" {
		reason = "unknown error"
	}
	worker := t.AssignedTo
	if worker == "" {
		worker = "UNKNOWN"
	}
	l.remember(worker, fmt.Sprintf("Failed: %s: %s", t.Title, truncate(reason, failureNoteRunes)))
	log.Printf("learning: %s learned from failure of %q", worker, t.Title)
	return nil
}

// Share sends content from one worker to the targets, or to every other
// active worker when targets is empty. Undeliverable targets are logged and
// skipped.
func (l *Learner) Share(ctx context.Context, from, content string, kind Kind, targets ...string) (Share, error) {
	return l.share(ctx, from, content, kind, "", targets)
}

func (l *Learner) share(ctx context.Context, from, content string, kind Kind, taskID string, targets []string) (Share, error) {
	if len(targets) == 0 {
		active, err := l.workers.List(ctx, true)
		if err != nil {
			return Share{}, fmt.Errorf("share knowledge: %w", err)
		}
		for _, w := range active {
			if w.Code != from {
				targets = append(targets, w.Code)
			}
		}
	}

	priority := comms.PriorityMedium
	if kind == KindWarning {
		priority = comms.PriorityHigh
	}
	body := fmt.Sprintf("[%s] %s", kind, content)

	delivered := make([]string, 0, len(targets))
	for _, to := range targets {
		if _, err := l.messenger.Send(ctx, from, to, body, comms.SendOptions{Type: comms.TypeNotification, Priority: priority}); err != nil {
			log.Printf("WARNING: learning: share from %s to %s: %v", from, to, err)
			continue
		}
		delivered = append(delivered, to)
	}

	s := Share{
		ID:      uuid.NewString(),
		From:    from,
		To:      delivered,
		Kind:    kind,
		Content: content,
		TaskID:  taskID,
		At:      l.now(),
	}
	l.mu.Lock()
	l.history = append(l.history, s)
	if len(l.history) > historyCap {
		l.history = l.history[len(l.history)-historyCap:]
	}
	l.mu.Unlock()

	l.events.Publish(events.KnowledgeSharedEvent{
		TaskID:     taskID,
		From:       from,
		Recipients: len(delivered),
		Insight:    content,
		Timestamp:  s.At,
	})
	log.Printf("learning: %s shared %s with %d workers", from, kind, len(delivered))
	return s, nil
}

func (l *Learner) alreadyShared(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.history {
		if s.TaskID == taskID {
			return true
		}
	}
	return false
}

// AutoShare spreads insights from the most recent substantial results of
// the last hour to workers in the relevant roles. Each task is shared at
// most once while it remains in the share history. It returns the number of
// shares made.
func (l *Learner) AutoShare(ctx context.Context) (int, error) {
	recent, err := l.tasks.List(ctx, queue.Filter{
		Statuses:       []queue.Status{queue.StatusCompleted},
		CompletedAfter: l.now().Add(-shareWindow),
		Order:          queue.OrderCompleted,
		Limit:          shareScanLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("auto share: %w", err)
	}

	var active []*roster.Worker
	shared := 0
	for _, t := range recent {
		if t.AssignedTo == "" || utf8.RuneCountInString(t.Result) < minShareRunes || l.alreadyShared(t.ID) {
			continue
		}
		text := ExtractInsight(t.Result)
		if text == "" {
			continue
		}
		if active == nil {
			if active, err = l.workers.List(ctx, true); err != nil {
				return shared, fmt.Errorf("auto share: %w", err)
			}
		}
		targets := targetsFor(active, RelevantRoles(t.Type), t.AssignedTo)
		if len(targets) == 0 {
			continue
		}
		content := fmt.Sprintf("From task %q: %s", t.Title, text)
		if _, err := l.share(ctx, t.AssignedTo, content, KindInsight, t.ID, targets); err != nil {
			return shared, err
		}
		shared++
	}
	if shared > 0 {
		log.Printf("learning: auto-shared %d learning(s)", shared)
	}
	return shared, nil
}

func targetsFor(workers []*roster.Worker, roles []roster.Role, exclude string) []string {
	var out []string
	for _, w := range workers {
		if w.Code == exclude {
			continue
		}
		for _, r := range roles {
			if w.Role == r {
				out = append(out, w.Code)
				break
			}
		}
	}
	return out
}

// History returns up to limit shares, newest first. limit <= 0 means 20.
func (l *Learner) History(limit int) []Share {
	if limit <= 0 {
		limit = 20
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.history)
	if limit > n {
		limit = n
	}
	out := make([]Share, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.history[i])
	}
	return out
}
