// Package orchestrator manufactures and composes work: template-based task
// generation for idle workers, strategic planning, decomposition of a task
// into subtasks, follow-up chaining and multi-stage pipelines.
package orchestrator

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/comms"
	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// Title prefixes of machine-created tasks.
const (
	AutoPrefix     = "[Auto] "
	StrategyPrefix = "[STRATEGY] "
	PipelinePrefix = "[Pipeline] "
)

// Tasks is the slice of the task queue the orchestrator uses.
type Tasks interface {
	Create(ctx context.Context, spec queue.Spec) (*queue.Task, error)
	CreateSubtask(ctx context.Context, parentID string, spec queue.Spec) (*queue.Task, error)
	Get(ctx context.Context, id string) (*queue.Task, error)
	Block(ctx context.Context, id string) (*queue.Task, error)
	Count(ctx context.Context, statuses ...queue.Status) (int, error)
	List(ctx context.Context, f queue.Filter) ([]*queue.Task, error)
}

// Workers resolves worker codes and roles.
type Workers interface {
	Get(ctx context.Context, code string) (*roster.Worker, error)
	List(ctx context.Context, activeOnly bool) ([]*roster.Worker, error)
	FindIdle(ctx context.Context, role roster.Role) (*roster.Worker, error)
}

// Messenger delivers hand-off notes between workers.
type Messenger interface {
	Send(ctx context.Context, from, to, content string, opts comms.SendOptions) (*comms.Message, error)
}

// Config tunes generation and planning.
type Config struct {
	// PendingCeiling stops generation while this many tasks are pending or
	// assigned.
	PendingCeiling int `mapstructure:"pending_ceiling" yaml:"pending_ceiling"`
	// MaxGenerated caps how many idle workers get a task per pass.
	MaxGenerated int `mapstructure:"max_generated" yaml:"max_generated"`
	// Recency skips workers that received a task within this window.
	Recency time.Duration `mapstructure:"recency" yaml:"recency"`
	// Strategist is the worker that runs strategic planning.
	Strategist string `mapstructure:"strategist" yaml:"strategist"`
	// Planner is the worker asked to decompose tasks.
	Planner string `mapstructure:"planner" yaml:"planner"`
	// ExcerptLen bounds how much of a previous result is carried forward.
	ExcerptLen int `mapstructure:"excerpt_len" yaml:"excerpt_len"`
}

// DefaultConfig returns the stock orchestrator settings.
func DefaultConfig() Config {
	return Config{
		PendingCeiling: 20,
		MaxGenerated:   9,
		Recency:        20 * time.Minute,
		Strategist:     roster.Commander,
		Planner:        roster.Commander,
		ExcerptLen:     2000,
	}
}

// Orchestrator implements generation, decomposition, chaining and pipelines.
type Orchestrator struct {
	cfg       Config
	tasks     Tasks
	workers   Workers
	messenger Messenger
	provider  backend.Backend
	pipelines PipelineStore
	events    events.Publisher

	pipeMu    sync.Mutex
	templates map[string]Template
	rules     []ChainRule

	randMu sync.Mutex
	rand   *rand.Rand
	now    func() time.Time
	newID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRand sets the source used to pick templates.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) { o.rand = r }
}

// WithEvents publishes task and pipeline events to pub.
func WithEvents(pub events.Publisher) Option {
	return func(o *Orchestrator) { o.events = pub }
}

// New creates an orchestrator with the built-in pipeline templates
// registered. Zero fields in cfg take their defaults.
func New(cfg Config, tasks Tasks, workers Workers, messenger Messenger, provider backend.Backend, pipelines PipelineStore, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.PendingCeiling <= 0 {
		cfg.PendingCeiling = def.PendingCeiling
	}
	if cfg.MaxGenerated <= 0 {
		cfg.MaxGenerated = def.MaxGenerated
	}
	if cfg.Recency <= 0 {
		cfg.Recency = def.Recency
	}
	if cfg.Strategist == "" {
		cfg.Strategist = def.Strategist
	}
	if cfg.Planner == "" {
		cfg.Planner = def.Planner
	}
	if cfg.ExcerptLen <= 0 {
		cfg.ExcerptLen = def.ExcerptLen
	}

	o := &Orchestrator{
		cfg:       cfg,
		tasks:     tasks,
		workers:   workers,
		messenger: messenger,
		provider:  provider,
		pipelines: pipelines,
		events:    events.Discard,
		templates: make(map[string]Template),
		rules:     DefaultChainRules(),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, t := range BuiltinTemplates() {
		if err := o.RegisterTemplate(t); err != nil {
			log.Printf("ERROR: orchestrator: built-in template %s: %v", t.Key, err)
		}
	}
	return o
}

func (o *Orchestrator) pick(n int) int {
	o.randMu.Lock()
	defer o.randMu.Unlock()
	return o.rand.Intn(n)
}

func (o *Orchestrator) publishCreated(t *queue.Task, source string) {
	o.events.Publish(events.TaskCreatedEvent{
		ID:        t.ID,
		Title:     t.Title,
		Worker:    t.AssignedTo,
		Source:    source,
		Timestamp: o.now(),
	})
}

// excerpt truncates s to at most n bytes without splitting a UTF-8 sequence.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
