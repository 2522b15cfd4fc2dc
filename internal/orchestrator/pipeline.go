package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/aristath/hq/internal/events"
	"github.com/aristath/hq/internal/queue"
	"github.com/aristath/hq/internal/roster"
)

var (
	// ErrUnknownTemplate is returned by StartPipeline for unregistered names.
	ErrUnknownTemplate = errors.New("unknown pipeline template")
	// ErrPipelineNotFound is returned by stores for unknown pipeline ids.
	ErrPipelineNotFound = errors.New("pipeline not found")
)

// PipelineStatus is the lifecycle state of a pipeline.
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "pending"
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
)

// StageStatus is the lifecycle state of one stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running" // task created, not yet completed
	StageCompleted StageStatus = "completed"
)

// StageTemplate describes one step of a pipeline template.
type StageTemplate struct {
	Role        string `mapstructure:"role" yaml:"role"`                                 // role or profile name
	Worker      string `mapstructure:"worker" yaml:"worker,omitempty"`                   // preferred worker code
	Title       string `mapstructure:"title" yaml:"title"`
	Description string `mapstructure:"description" yaml:"description"`
	DependsOn   *int   `mapstructure:"depends_on" yaml:"depends_on,omitempty"` // index of the stage this one waits for
}

// Template is a named, reusable pipeline definition.
type Template struct {
	Key    string          `mapstructure:"key" yaml:"key"`
	Name   string          `mapstructure:"name" yaml:"name"`
	Stages []StageTemplate `mapstructure:"stages" yaml:"stages"`
}

// Stage is a running instance of a StageTemplate.
type Stage struct {
	Index       int
	Role        string
	Worker      string // preferred code until resolved, then the resolved code
	Title       string
	Description string
	DependsOn   *int
	Status      StageStatus
	TaskID      string
	Result      string
}

// Pipeline is a running instance of a Template.
type Pipeline struct {
	ID          string
	Template    string
	Name        string
	Status      PipelineStatus
	Stages      []Stage
	Context     map[string]string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// Progress returns the number of completed stages and the total.
func (p *Pipeline) Progress() (completed, total int) {
	for _, s := range p.Stages {
		if s.Status == StageCompleted {
			completed++
		}
	}
	return completed, len(p.Stages)
}

// PipelineStore persists pipeline instances.
type PipelineStore interface {
	InsertPipeline(ctx context.Context, p *Pipeline) error
	UpdatePipeline(ctx context.Context, p *Pipeline) error
	GetPipeline(ctx context.Context, id string) (*Pipeline, error)
	ListPipelines(ctx context.Context, activeOnly bool) ([]*Pipeline, error)
}

func stageRef(i int) *int { return &i }

// BuiltinTemplates returns the stock pipeline templates.
func BuiltinTemplates() []Template {
	return []Template{
		{
			Key:  "content-publish",
			Name: "Content Publish Pipeline",
			Stages: []StageTemplate{
				{Role: "growth", Worker: "CONTENT-01", Title: "Draft content",
					Description: "Research the topic and write a post ready for publication. Deliver it as Markdown."},
				{Role: "growth", Worker: "GROWTH-01", Title: "Review content strategy alignment", DependsOn: stageRef(0),
					Description: "Check the draft against current growth goals: keywords, call to action, audience fit. Return the revised draft."},
				{Role: "growth", Worker: "SOCIAL-01", Title: "Publish to platforms", DependsOn: stageRef(1),
					Description: "Adapt the reviewed content for each channel and publish it. Report where it went out."},
			},
		},
		{
			Key:  "grant-application",
			Name: "Grant Application Pipeline",
			Stages: []StageTemplate{
				{Role: "bd", Worker: "BD-01", Title: "Discover grant opportunity",
					Description: "Find one promising grant or credits program. Report eligibility, value, deadline and requirements."},
				{Role: "growth", Worker: "CONTENT-01", Title: "Draft grant proposal", DependsOn: stageRef(0),
					Description: "Write the application for the opportunity found in the previous stage."},
				{Role: "risk", Worker: "LEGAL-01", Title: "Legal compliance review", DependsOn: stageRef(1),
					Description: "Review the proposal against the program's terms. Flag misrepresentation and risky commitments."},
				{Role: "bd", Worker: "BD-01", Title: "Submit application", DependsOn: stageRef(2),
					Description: "Submit the reviewed application and record the submission details and follow-up dates."},
			},
		},
		{
			Key:  "growth-experiment",
			Name: "Growth Experiment Pipeline",
			Stages: []StageTemplate{
				{Role: "growth", Worker: "GROWTH-01", Title: "Design growth experiment",
					Description: "State a hypothesis, the metric it moves and an execution plan for one experiment."},
				{Role: "growth", Worker: "CONTENT-01", Title: "Create experiment content", DependsOn: stageRef(0),
					Description: "Produce the material the experiment needs: posts, copy or email templates."},
				{Role: "growth", Worker: "SOCIAL-01", Title: "Execute distribution", DependsOn: stageRef(1),
					Description: "Distribute the experiment material through the planned channels and note early engagement."},
				{Role: "analyst", Worker: "ANALYST-01", Title: "Analyze experiment results", DependsOn: stageRef(2),
					Description: "Compare the results with the hypothesis and the baseline. Recommend whether to continue."},
			},
		},
		{
			Key:  "competitor-response",
			Name: "Competitor Response Pipeline",
			Stages: []StageTemplate{
				{Role: "analyst", Worker: "ANALYST-01", Title: "Analyze competitor move",
					Description: "Assess a recent competitor announcement: what changed, who it affects, where we are stronger or exposed."},
				{Role: "growth", Worker: "GROWTH-01", Title: "Develop response strategy", DependsOn: stageRef(0),
					Description: "Turn the analysis into a response plan with messaging and priorities."},
				{Role: "growth", Worker: "CONTENT-01", Title: "Create differentiation content", DependsOn: stageRef(1),
					Description: "Write comparison or feature pieces that carry the response plan."},
				{Role: "growth", Worker: "SOCIAL-01", Title: "Distribute and engage", DependsOn: stageRef(2),
					Description: "Publish the pieces, join the related conversations and report on sentiment."},
			},
		},
		{
			Key:  "market-analysis",
			Name: "Market Analysis Pipeline",
			Stages: []StageTemplate{
				{Role: "analyst", Title: "Gather market data",
					Description: "Collect market data, competitor information and industry trends."},
				{Role: "growth", Title: "Develop strategy", DependsOn: stageRef(0),
					Description: "Derive a growth strategy and action plan from the market data."},
				{Role: "bd", Title: "Identify partnerships", DependsOn: stageRef(1),
					Description: "List and rank the partnerships and grants that fit the strategy."},
			},
		},
		{
			Key:  "developer-acquisition",
			Name: "Developer Acquisition Pipeline",
			Stages: []StageTemplate{
				{Role: "bd", Worker: "DEVREL-01", Title: "Research developer communities",
					Description: "Find the forums, chat servers and repositories where our target developers are active."},
				{Role: "growth", Worker: "CONTENT-01", Title: "Create developer content", DependsOn: stageRef(0),
					Description: "Write tutorials, examples or integration guides for those communities."},
				{Role: "growth", Worker: "SOCIAL-01", Title: "Distribute to dev communities", DependsOn: stageRef(1),
					Description: "Share the material in the identified communities and take part in the discussions."},
				{Role: "support", Worker: "SUPPORT-01", Title: "Follow up with interested devs", DependsOn: stageRef(2),
					Description: "Answer the questions that came in, help with onboarding and collect feedback."},
			},
		},
	}
}

// RegisterTemplate validates t and makes it available to StartPipeline,
// replacing any template with the same key.
func (o *Orchestrator) RegisterTemplate(t Template) error {
	if t.Key == "" {
		return fmt.Errorf("pipeline template: key is required")
	}
	if _, err := ValidateStages(t.Stages); err != nil {
		return fmt.Errorf("pipeline template %q: %w", t.Key, err)
	}
	if t.Name == "" {
		t.Name = t.Key
	}
	o.pipeMu.Lock()
	o.templates[t.Key] = t
	o.pipeMu.Unlock()
	return nil
}

// Templates returns the registered templates ordered by key.
func (o *Orchestrator) Templates() []Template {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()
	out := make([]Template, 0, len(o.templates))
	for _, t := range o.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// StartPipeline instantiates a template and creates tasks for every stage
// without a dependency. description, when set, is appended to those stages'
// task descriptions as extra context.
func (o *Orchestrator) StartPipeline(ctx context.Context, key string, pctx map[string]string, description string) (*Pipeline, error) {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()

	tmpl, ok := o.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, key)
	}

	now := o.now()
	p := &Pipeline{
		ID:        "pipeline_" + o.newID(),
		Template:  tmpl.Key,
		Name:      tmpl.Name,
		Status:    PipelinePending,
		Context:   pctx,
		CreatedBy: queue.CreatorSystem,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, st := range tmpl.Stages {
		p.Stages = append(p.Stages, Stage{
			Index:       i,
			Role:        st.Role,
			Worker:      st.Worker,
			Title:       st.Title,
			Description: st.Description,
			DependsOn:   st.DependsOn,
			Status:      StagePending,
		})
	}
	if err := o.pipelines.InsertPipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("insert pipeline: %w", err)
	}

	for i := range p.Stages {
		stage := &p.Stages[i]
		if stage.DependsOn != nil {
			continue
		}
		desc := stage.Description
		if description != "" {
			desc += "\n\nContext: " + description
		}
		if _, err := o.startStage(ctx, p, stage, desc, queue.CreatorSystem); err != nil {
			return nil, err
		}
	}

	p.Status = PipelineRunning
	p.UpdatedAt = o.now()
	if err := o.pipelines.UpdatePipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("update pipeline: %w", err)
	}
	log.Printf("orchestrator: pipeline %s started (%s)", p.ID, p.Name)
	o.publishProgress(p)
	return p, nil
}

// startStage resolves a worker for stage and creates its task. A stage with
// no idle worker is skipped and stays pending.
func (o *Orchestrator) startStage(ctx context.Context, p *Pipeline, stage *Stage, description, createdBy string) (*queue.Task, error) {
	w, err := o.resolveWorker(ctx, stage.Worker, stage.Role)
	if err != nil {
		return nil, err
	}
	if w == nil {
		log.Printf("orchestrator: pipeline %s stage %d (%s): no idle %s worker, skipping", p.ID, stage.Index, stage.Title, stage.Role)
		return nil, nil
	}

	idx := stage.Index
	extra := make(map[string]string, len(p.Context))
	for k, v := range p.Context {
		extra[k] = v
	}
	task, err := o.tasks.Create(ctx, queue.Spec{
		Title:       PipelinePrefix + stage.Title,
		Description: description,
		Type:        TypeForRole(stage.Role),
		Priority:    queue.PriorityHigh,
		AssignedTo:  w.Code,
		CreatedBy:   createdBy,
		Metadata:    queue.Metadata{PipelineID: p.ID, StageIndex: &idx},
		Context:     queue.ExecContext{Pipeline: p.ID, Extra: extra},
	})
	if err != nil {
		return nil, fmt.Errorf("create stage %d task: %w", stage.Index, err)
	}

	stage.Worker = w.Code
	stage.TaskID = task.ID
	stage.Status = StageRunning
	o.publishCreated(task, "pipeline")
	return task, nil
}

// advancePipeline records the completion of task's stage and starts every
// stage that waited on it. It returns the last task created, if any.
func (o *Orchestrator) advancePipeline(ctx context.Context, task *queue.Task) (*queue.Task, error) {
	o.pipeMu.Lock()
	defer o.pipeMu.Unlock()

	p, err := o.pipelines.GetPipeline(ctx, task.Metadata.PipelineID)
	if errors.Is(err, ErrPipelineNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pipeline: %w", err)
	}
	if p.Status == PipelineCompleted {
		return nil, nil
	}

	var done *Stage
	for i := range p.Stages {
		if p.Stages[i].TaskID == task.ID {
			done = &p.Stages[i]
			break
		}
	}
	if done == nil || done.Status == StageCompleted {
		return nil, nil
	}
	done.Status = StageCompleted
	done.Result = task.Result

	prev := excerpt(done.Result, o.cfg.ExcerptLen)
	creator := done.Worker
	if creator == "" {
		creator = queue.CreatorSystem
	}

	var created *queue.Task
	for i := range p.Stages {
		next := &p.Stages[i]
		if next.DependsOn == nil || *next.DependsOn != done.Index || next.Status != StagePending {
			continue
		}
		desc := next.Description + "\n\n--- Previous stage output ---\n" + prev
		t, err := o.startStage(ctx, p, next, desc, creator)
		if err != nil {
			return nil, err
		}
		if t != nil {
			created = t
			log.Printf("orchestrator: pipeline %s: %s -> %s", p.ID, done.Title, next.Title)
		}
	}

	if completed, total := p.Progress(); completed == total {
		p.Status = PipelineCompleted
		p.CompletedAt = o.now()
		log.Printf("orchestrator: pipeline %s completed (%s)", p.ID, p.Name)
	}
	p.UpdatedAt = o.now()
	if err := o.pipelines.UpdatePipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("update pipeline: %w", err)
	}
	o.publishProgress(p)
	return created, nil
}

// Pipeline returns a pipeline by id.
func (o *Orchestrator) Pipeline(ctx context.Context, id string) (*Pipeline, error) {
	return o.pipelines.GetPipeline(ctx, id)
}

// Pipelines lists pipelines, newest first. activeOnly excludes completed ones.
func (o *Orchestrator) Pipelines(ctx context.Context, activeOnly bool) ([]*Pipeline, error) {
	return o.pipelines.ListPipelines(ctx, activeOnly)
}

func (o *Orchestrator) publishProgress(p *Pipeline) {
	completed, total := p.Progress()
	o.events.Publish(events.PipelineProgressEvent{
		PipelineID: p.ID,
		Name:       p.Name,
		Status:     string(p.Status),
		Completed:  completed,
		Total:      total,
		Timestamp:  o.now(),
	})
}

// resolveWorker picks the worker for a stage or chain step: the preferred
// code when that worker is idle and active, otherwise the first idle worker
// whose role (or profile) is role. It returns nil when nobody is free.
func (o *Orchestrator) resolveWorker(ctx context.Context, preferred, role string) (*roster.Worker, error) {
	if preferred != "" {
		w, err := o.workers.Get(ctx, preferred)
		switch {
		case err == nil && w.Available():
			return w, nil
		case err != nil && !errors.Is(err, roster.ErrNotFound):
			return nil, fmt.Errorf("load worker %s: %w", preferred, err)
		}
	}
	if role == "" {
		return nil, nil
	}
	if r, err := roster.ParseRole(role); err == nil {
		w, err := o.workers.FindIdle(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("find idle %s worker: %w", role, err)
		}
		if w != nil {
			return w, nil
		}
	}
	if p, err := roster.ParseProfile(role); err == nil {
		workers, err := o.workers.List(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list workers: %w", err)
		}
		for _, w := range workers {
			if w.Profile == p && w.Available() {
				return w, nil
			}
		}
	}
	return nil, nil
}
