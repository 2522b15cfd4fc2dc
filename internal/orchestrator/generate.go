package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// GenerateTasks hands a random stock task to each idle, active, non-premium
// worker that has not been given work within the recency window. Nothing is
// generated while the pending/assigned count is at the ceiling.
func (o *Orchestrator) GenerateTasks(ctx context.Context, workers []*roster.Worker) ([]*queue.Task, error) {
	var idle []*roster.Worker
	for _, w := range workers {
		if w.Available() && !w.Premium {
			idle = append(idle, w)
		}
	}
	if len(idle) == 0 {
		return nil, nil
	}

	open, err := o.tasks.Count(ctx, queue.StatusPending, queue.StatusAssigned)
	if err != nil {
		return nil, fmt.Errorf("count open tasks: %w", err)
	}
	if open >= o.cfg.PendingCeiling {
		log.Printf("orchestrator: %d tasks already pending, skipping generation", open)
		return nil, nil
	}

	if len(idle) > o.cfg.MaxGenerated {
		idle = idle[:o.cfg.MaxGenerated]
	}

	cutoff := o.now().Add(-o.cfg.Recency)
	var created []*queue.Task
	for _, w := range idle {
		recent, err := o.tasks.List(ctx, queue.Filter{
			AssignedTo:   w.Code,
			ActiveOnly:   true,
			CreatedAfter: cutoff,
			Order:        queue.OrderNewest,
			Limit:        1,
		})
		if err != nil {
			return created, fmt.Errorf("recent tasks of %s: %w", w.Code, err)
		}
		if len(recent) > 0 {
			continue
		}

		key, pool := TemplatesFor(w)
		if len(pool) == 0 {
			continue
		}
		tmpl := pool[o.pick(len(pool))]

		task, err := o.tasks.Create(ctx, queue.Spec{
			Title:       AutoPrefix + tmpl.Title,
			Description: tmpl.Description,
			Type:        tmpl.Type,
			Priority:    tmpl.Priority,
			AssignedTo:  w.Code,
			CreatedBy:   queue.CreatorSystem,
			Context: queue.ExecContext{
				AutoGenerated: true,
				AgentRole:     string(w.Role),
				TemplateKey:   string(key),
			},
		})
		if err != nil {
			return created, fmt.Errorf("generate task for %s: %w", w.Code, err)
		}
		log.Printf("orchestrator: generated %q for %s", tmpl.Title, w.Code)
		o.publishCreated(task, "generation")
		created = append(created, task)
	}
	return created, nil
}

const maxStrategic = 5

const strategyPrompt = `You are the strategist of an autonomous team of workers.

Current state:
- Open tasks (pending or assigned): %d
- Idle workers: %s

Propose 3 to 5 specific, high-impact tasks for the idle workers. Each task
must be concrete enough to act on without further questions.

Reply with a JSON array only, in this shape:
[
  {"title": "...", "description": "...", "assignedTo": "WORKER-CODE", "priority": "high|critical", "type": "marketing|research|operations"}
]`

// StrategicPlan asks the strategist worker for a handful of ad hoc
// high-priority tasks and enqueues them. It is a no-op when the strategist
// is missing or inactive.
func (o *Orchestrator) StrategicPlan(ctx context.Context) ([]*queue.Task, error) {
	strategist, err := o.workers.Get(ctx, o.cfg.Strategist)
	if errors.Is(err, roster.ErrNotFound) || (err == nil && !strategist.Active) {
		log.Printf("WARNING: orchestrator: strategist %s not found or inactive, skipping strategic planning", o.cfg.Strategist)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load strategist: %w", err)
	}
	if o.provider == nil {
		return nil, fmt.Errorf("strategic planning: no provider configured")
	}

	open, err := o.tasks.Count(ctx, queue.StatusPending, queue.StatusAssigned)
	if err != nil {
		return nil, fmt.Errorf("count open tasks: %w", err)
	}
	workers, err := o.workers.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	var idle []string
	for _, w := range workers {
		if w.Available() && !w.Premium && w.Code != strategist.Code {
			idle = append(idle, fmt.Sprintf("%s (%s)", w.Code, w.Profile))
		}
	}
	if len(idle) == 0 {
		idle = []string{"none"}
	}

	resp, err := o.provider.Complete(ctx, backend.Prompt(strategist.Code, "",
		fmt.Sprintf(strategyPrompt, open, strings.Join(idle, ", "))))
	if err != nil {
		return nil, fmt.Errorf("strategic planning: %w", err)
	}
	items, err := ParseStrategy(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("strategic planning: %w", err)
	}
	if len(items) > maxStrategic {
		items = items[:maxStrategic]
	}

	var created []*queue.Task
	for _, it := range items {
		assignee := strings.TrimSpace(it.AssignedTo)
		if assignee != "" {
			if _, err := o.workers.Get(ctx, assignee); err != nil {
				log.Printf("WARNING: orchestrator: strategic task %q names unknown worker %s, leaving unassigned", it.Title, assignee)
				assignee = ""
			}
		}

		task, err := o.tasks.Create(ctx, queue.Spec{
			Title:       StrategyPrefix + it.Title,
			Description: it.Description,
			Type:        strategicType(it.Type),
			Priority:    strategicPriority(it.Priority),
			AssignedTo:  assignee,
			CreatedBy:   strategist.Code,
			Context:     queue.ExecContext{Strategic: true},
		})
		if err != nil {
			return created, fmt.Errorf("create strategic task: %w", err)
		}
		o.publishCreated(task, "strategy")
		created = append(created, task)
	}
	log.Printf("orchestrator: strategist generated %d tasks", len(created))
	return created, nil
}

func strategicType(name string) queue.Type {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "marketing":
		return queue.TypeMarketing
	case "research":
		return queue.TypeResearch
	default:
		return queue.TypeOperations
	}
}

func strategicPriority(name string) queue.Priority {
	if strings.EqualFold(strings.TrimSpace(name), "critical") {
		return queue.PriorityCritical
	}
	return queue.PriorityHigh
}
