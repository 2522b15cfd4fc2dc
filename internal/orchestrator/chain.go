package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aristath/hq/internal/comms"
	"github.com/aristath/hq/internal/queue"
)

// ChainRule maps the output of one kind of work to a follow-up task for
// another worker.
type ChainRule struct {
	// Key is the template key (profile) of the completed task.
	Key string
	// MatchRole also accepts tasks whose agent role equals Key.
	MatchRole bool
	// From is the type of the completed task.
	From queue.Type

	Prefix      string
	Description string
	Type        queue.Type
	Worker      string // preferred worker for the follow-up
	Role        string // fallback role when Worker is busy
}

// DefaultChainRules returns the stock follow-up table.
func DefaultChainRules() []ChainRule {
	return []ChainRule{
		{Key: "analyst", MatchRole: true, From: queue.TypeAnalysis,
			Prefix: "Act on analysis: ", Type: queue.TypeMarketing, Worker: "GROWTH-01", Role: "growth",
			Description: "Turn the analysis below into concrete growth initiatives and marketing actions."},
		{Key: "growth", From: queue.TypePlanning,
			Prefix: "Create content for: ", Type: queue.TypeMarketing, Worker: "CONTENT-01", Role: "content",
			Description: "Create the content (article, posts or tutorial) that executes the plan below."},
		{Key: "content", From: queue.TypeMarketing,
			Prefix: "Distribute: ", Type: queue.TypeMarketing, Worker: "SOCIAL-01", Role: "social",
			Description: "Adapt the content below for each channel and publish it."},
		{Key: "bd", From: queue.TypeResearch,
			Prefix: "Draft proposal for: ", Type: queue.TypeMarketing, Worker: "CONTENT-01", Role: "content",
			Description: "Draft a proposal or application based on the research below."},
		{Key: "support", From: queue.TypeAnalysis,
			Prefix: "Address feedback from: ", Type: queue.TypePlanning, Worker: "GROWTH-01", Role: "growth",
			Description: "Plan actions that address the pain points and build on the praise in the feedback below."},
	}
}

// SetChainRules replaces the follow-up table.
func (o *Orchestrator) SetChainRules(rules []ChainRule) {
	o.pipeMu.Lock()
	o.rules = append([]ChainRule(nil), rules...)
	o.pipeMu.Unlock()
}

func (o *Orchestrator) matchRule(key, role string, t queue.Type) (ChainRule, bool) {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()
	for _, r := range o.rules {
		if r.From != t {
			continue
		}
		if r.Key == key || (r.MatchRole && r.Key == role) {
			return r, true
		}
	}
	return ChainRule{}, false
}

// OnTaskCompleted is called after a task completes. Pipeline tasks advance
// their pipeline; other tasks may spawn a follow-up through the chain rules.
// It returns the task created, or nil.
func (o *Orchestrator) OnTaskCompleted(ctx context.Context, task *queue.Task) (*queue.Task, error) {
	if task == nil || task.Status != queue.StatusCompleted || task.Result == "" {
		return nil, nil
	}
	if task.Metadata.PipelineID != "" {
		return o.advancePipeline(ctx, task)
	}
	if task.Metadata.AutoChain != nil && !*task.Metadata.AutoChain {
		return nil, nil
	}

	key, role := task.Context.TemplateKey, task.Context.AgentRole
	if key == "" && role == "" && task.AssignedTo != "" {
		if w, err := o.workers.Get(ctx, task.AssignedTo); err == nil {
			key, role = string(w.Profile), string(w.Role)
		}
	}
	if key == "" {
		key = role
	}
	rule, ok := o.matchRule(key, role, task.Type)
	if !ok {
		return nil, nil
	}

	w, err := o.resolveWorker(ctx, rule.Worker, rule.Role)
	if err != nil {
		return nil, err
	}
	if w == nil {
		log.Printf("orchestrator: no idle worker for follow-up of %s, skipping", task.ID)
		return nil, nil
	}

	title := rule.Prefix + strings.TrimPrefix(task.Title, AutoPrefix)
	creator := task.AssignedTo
	if creator == "" {
		creator = queue.CreatorSystem
	}
	next, err := o.tasks.Create(ctx, queue.Spec{
		Title:       title,
		Description: rule.Description + "\n\n--- Previous task output ---\n" + excerpt(task.Result, o.cfg.ExcerptLen),
		Type:        rule.Type,
		Priority:    task.Priority,
		AssignedTo:  w.Code,
		CreatedBy:   creator,
		Context:     queue.ExecContext{ChainedFrom: task.ID, AutoChained: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create follow-up of %s: %w", task.ID, err)
	}
	o.publishCreated(next, "chain")
	log.Printf("orchestrator: chained %q -> %q (%s)", task.Title, title, w.Code)

	if task.AssignedTo != "" && o.messenger != nil {
		_, err := o.messenger.Send(ctx, task.AssignedTo, w.Code,
			fmt.Sprintf("I've completed \"%s\". Please continue with: %s", task.Title, title),
			comms.SendOptions{
				Type: comms.TypeDelegation,
				Context: map[string]string{
					"taskId":         next.ID,
					"previousResult": excerpt(task.Result, handoffExcerpt),
				},
			})
		if err != nil {
			log.Printf("WARNING: orchestrator: hand-off note for %s: %v", next.ID, err)
		}
	}
	return next, nil
}

const handoffExcerpt = 500
