package queue

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a task.
type Status int

const (
	StatusPending    Status = iota // Waiting to be picked up
	StatusAssigned                 // Bound to a worker, not yet started
	StatusInProgress               // Dispatched to the worker
	StatusCompleted                // Finished successfully
	StatusFailed                   // Retries exhausted
	StatusBlocked                  // Waiting on subtasks, or a subtask failed
	StatusDelegated                // Handed off by a delegation flow
)

var statusNames = map[Status]string{
	StatusPending:    "pending",
	StatusAssigned:   "assigned",
	StatusInProgress: "in_progress",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
	StatusBlocked:    "blocked",
	StatusDelegated:  "delegated",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether no further scheduling happens for the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts a status name back into a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", name)
}

// Priority orders tasks in the queue. Higher values run first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityUrgent:   "urgent",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the defined tiers.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority accepts tier names as produced by planners. "medium" maps to
// normal; unknown names fall back to normal.
func ParsePriority(name string) Priority {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Type classifies the kind of work a task represents.
type Type string

const (
	TypeDevelopment   Type = "development"
	TypeAnalysis      Type = "analysis"
	TypeMarketing     Type = "marketing"
	TypeOperations    Type = "operations"
	TypeResearch      Type = "research"
	TypePlanning      Type = "planning"
	TypeReview        Type = "review"
	TypeCommunication Type = "communication"
)

// Types lists every task type.
var Types = []Type{
	TypeDevelopment, TypeAnalysis, TypeMarketing, TypeOperations,
	TypeResearch, TypePlanning, TypeReview, TypeCommunication,
}

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata carries execution bookkeeping attached to a task.
type Metadata struct {
	PipelineID    string   `json:"pipelineId,omitempty"`
	StageIndex    *int     `json:"stageIndex,omitempty"`
	Collaborators []string `json:"collaborators,omitempty"`
	SkillsUsed    []string `json:"skillsUsed,omitempty"`
	Model         string   `json:"model,omitempty"`
	TokensUsed    int      `json:"tokensUsed,omitempty"`
	// AutoChain set to false disables follow-up chaining for the task.
	AutoChain *bool `json:"autoChain,omitempty"`
}

// ExecContext describes where a task came from and what it relates to.
type ExecContext struct {
	AutoGenerated  bool              `json:"autoGenerated,omitempty"`
	AgentRole      string            `json:"agentRole,omitempty"`
	TemplateKey    string            `json:"templateKey,omitempty"`
	Strategic      bool              `json:"strategic,omitempty"`
	ChainedFrom    string            `json:"chainedFrom,omitempty"`
	AutoChained    bool              `json:"autoChained,omitempty"`
	ParentTaskID   string            `json:"parentTaskId,omitempty"`
	Decomposed     bool              `json:"decomposed,omitempty"`
	DelegatedBy    string            `json:"delegatedBy,omitempty"`
	RequiredSkills []string          `json:"requiredSkills,omitempty"`
	Pipeline       string            `json:"pipeline,omitempty"`
	Project        string            `json:"project,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Task is the unit of work handed to workers.
type Task struct {
	ID          string
	Title       string
	Description string
	Type        Type
	Priority    Priority
	Status      Status
	AssignedTo  string // worker code, empty when unassigned
	CreatedBy   string // worker code or "SYSTEM"
	ParentID    string
	DependsOn   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	DueAt       time.Time
	RetryCount  int
	MaxRetries  int
	Result      string
	Error       string
	Cost        float64
	Active      bool
	Metadata    Metadata
	Context     ExecContext
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.Metadata.Collaborators = append([]string(nil), t.Metadata.Collaborators...)
	cp.Metadata.SkillsUsed = append([]string(nil), t.Metadata.SkillsUsed...)
	if t.Metadata.StageIndex != nil {
		idx := *t.Metadata.StageIndex
		cp.Metadata.StageIndex = &idx
	}
	if t.Metadata.AutoChain != nil {
		v := *t.Metadata.AutoChain
		cp.Metadata.AutoChain = &v
	}
	cp.Context.Tags = append([]string(nil), t.Context.Tags...)
	cp.Context.RequiredSkills = append([]string(nil), t.Context.RequiredSkills...)
	if t.Context.Extra != nil {
		cp.Context.Extra = make(map[string]string, len(t.Context.Extra))
		for k, v := range t.Context.Extra {
			cp.Context.Extra[k] = v
		}
	}
	return &cp
}

// Spec is the input to Create.
type Spec struct {
	ID          string // optional, generated when empty
	Title       string
	Description string
	Type        Type
	Priority    Priority
	AssignedTo  string
	CreatedBy   string
	ParentID    string
	DependsOn   []string
	DueAt       time.Time
	MaxRetries  *int
	Metadata    Metadata
	Context     ExecContext
}

// DefaultMaxRetries applies when a Spec leaves MaxRetries unset.
const DefaultMaxRetries = 3

// CreatorSystem is the creator recorded for machine-created tasks.
const CreatorSystem = "SYSTEM"
