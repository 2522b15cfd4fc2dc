package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aristath/hq/internal/backend"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

// A decomposition yields between minPieces and maxPieces subtasks.
const (
	minPieces = 2
	maxPieces = 4
)

const decomposePrompt = `You are a project architect. Break the task below into 2 to 4 concrete subtasks, in the order they must happen.

Task: %s
Description: %s
Type: %s

Reply with a JSON array only:
[
  {"title": "...", "description": "...", "role": "coder|analyst|growth|commander|support|bd|content", "priority": "high|medium|low"}
]`

// Decompose asks the planner worker for a breakdown of a task and creates
// each piece as a subtask, chained so every piece depends on the previous
// one. The parent is blocked until its subtasks settle.
func (o *Orchestrator) Decompose(ctx context.Context, taskID string) ([]*queue.Task, error) {
	parent, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if parent.Status.Terminal() {
		return nil, fmt.Errorf("decompose %s task %s: %w", parent.Status, taskID, queue.ErrInvalidTransition)
	}
	if o.provider == nil {
		return nil, fmt.Errorf("decompose: no provider configured")
	}

	resp, err := o.provider.Complete(ctx, backend.Prompt(o.cfg.Planner, "",
		fmt.Sprintf(decomposePrompt, parent.Title, parent.Description, parent.Type)))
	if err != nil {
		return nil, fmt.Errorf("decompose %s: %w", taskID, err)
	}
	pieces, err := ParseBreakdown(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("decompose %s: %w", taskID, err)
	}
	if len(pieces) > maxPieces {
		pieces = pieces[:maxPieces]
	}

	var subtasks []*queue.Task
	prev := ""
	for _, p := range pieces {
		role := strings.ToLower(strings.TrimSpace(p.Role))
		w, err := o.resolveWorker(ctx, "", role)
		if err != nil {
			return subtasks, err
		}
		assignee := ""
		if w != nil {
			assignee = w.Code
		}

		spec := queue.Spec{
			Title:       p.Title,
			Description: p.Description,
			Type:        TypeForRole(role),
			Priority:    piecePriority(p.Priority),
			AssignedTo:  assignee,
			CreatedBy:   roster.Architect,
			Context:     queue.ExecContext{Decomposed: true},
		}
		if prev != "" {
			spec.DependsOn = []string{prev}
		}
		sub, err := o.tasks.CreateSubtask(ctx, taskID, spec)
		if err != nil {
			return subtasks, fmt.Errorf("create subtask of %s: %w", taskID, err)
		}
		o.publishCreated(sub, "decomposition")
		subtasks = append(subtasks, sub)
		prev = sub.ID
	}

	if _, err := o.tasks.Block(ctx, taskID); err != nil {
		return subtasks, fmt.Errorf("block parent %s: %w", taskID, err)
	}
	log.Printf("orchestrator: decomposed %q into %d subtasks", parent.Title, len(subtasks))
	return subtasks, nil
}

// piecePriority maps planner priorities: high, low, anything else normal.
func piecePriority(name string) queue.Priority {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "high":
		return queue.PriorityHigh
	case "low":
		return queue.PriorityLow
	default:
		return queue.PriorityNormal
	}
}
