// Package agent runs a single task on behalf of a worker: it renders the
// prompt, calls the worker's completion provider and records the spend.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/budget"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// UsageRecorder accounts provider spend.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, worker, model string, inputUnits, outputUnits int) (budget.Entry, error)
}

// TaskLookup resolves parent tasks for prompt context.
type TaskLookup interface {
	Get(ctx context.Context, id string) (*queue.Task, error)
}

// Config tunes execution.
type Config struct {
	MaxTokens    int `mapstructure:"max_tokens" yaml:"max_tokens"`       // zero leaves the provider default
	ContextChars int `mapstructure:"context_chars" yaml:"context_chars"` // cap on parent description and previous error in prompts
}

// DefaultConfig returns the execution defaults.
func DefaultConfig() Config {
	return Config{MaxTokens: 4096, ContextChars: 2000}
}

// Result is the outcome of one successful execution.
type Result struct {
	Content string
	Model   string
	Usage   backend.Usage
	Cost    float64
}

// TokensUsed is the total of input and output units.
func (r Result) TokensUsed() int {
	return r.Usage.InputUnits + r.Usage.OutputUnits
}

// Executor dispatches tasks to the completion provider. It never changes
// task or worker status; the caller owns those transitions.
type Executor struct {
	provider backend.Backend
	usage    UsageRecorder
	tasks    TaskLookup
	locks    *WorkerLocks
	cfg      Config
}

// NewExecutor creates an executor. tasks may be nil, in which case prompts
// carry no parent context.
func NewExecutor(provider backend.Backend, usage UsageRecorder, tasks TaskLookup, cfg Config) *Executor {
	return &Executor{
		provider: provider,
		usage:    usage,
		tasks:    tasks,
		locks:    NewWorkerLocks(),
		cfg:      cfg,
	}
}

// Request builds the provider request for task t run by worker w.
func (e *Executor) Request(ctx context.Context, w *roster.Worker, t *queue.Task) backend.Request {
	var parent *queue.Task
	if t.ParentID != "" && e.tasks != nil {
		p, err := e.tasks.Get(ctx, t.ParentID)
		if err != nil {
			log.Printf("WARNING: agent: load parent %s of task %s: %v", t.ParentID, t.ID, err)
		} else {
			parent = p
		}
	}
	req := backend.Prompt(w.Code, SystemPrompt(w), TaskPrompt(t, parent, e.cfg.ContextChars))
	req.Options = backend.Options{Model: w.Model, MaxTokens: e.cfg.MaxTokens}
	return req
}

// Execute runs t as worker w. It returns ErrWorkerBusy if w already has an
// execution in flight and backend.ErrEmptyResponse when the provider
// answered without text. Provider errors are returned wrapped so callers can
// still match backend.ErrRateLimited.
func (e *Executor) Execute(ctx context.Context, w *roster.Worker, t *queue.Task) (Result, error) {
	if err := e.locks.TryLock(w.Code); err != nil {
		return Result{}, fmt.Errorf("execute %s: %w", t.ID, err)
	}
	defer e.locks.Unlock(w.Code)

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("context cancelled before execution: %w", err)
	}

	resp, err := e.provider.Complete(ctx, e.Request(ctx, w, t))
	if err != nil {
		return Result{}, fmt.Errorf("%s on task %s: %w", w.Code, t.ID, err)
	}

	model := resp.Model
	if model == "" {
		model = w.Model
	}
	res := Result{Content: resp.Content, Model: model, Usage: resp.Usage}

	// Empty answers are billed too.
	if e.usage != nil {
		entry, err := e.usage.RecordUsage(ctx, w.Code, model, resp.Usage.InputUnits, resp.Usage.OutputUnits)
		if err != nil {
			log.Printf("WARNING: agent: record usage for %s: %v", w.Code, err)
		}
		res.Cost = entry.Cost
	}

	if strings.TrimSpace(resp.Content) == "" {
		return res, fmt.Errorf("%s on task %s: %w", w.Code, t.ID, backend.ErrEmptyResponse)
	}
	return res, nil
}

