package scheduler

import (
	"context"
	"fmt"
	"time"
)

// TickStatus is the lifecycle state of a tick execution record.
type TickStatus int

const (
	TickRunning TickStatus = iota
	TickCompleted
	TickFailed
)

var tickStatusNames = map[TickStatus]string{
	TickRunning:   "running",
	TickCompleted: "completed",
	TickFailed:    "failed",
}

func (s TickStatus) String() string {
	if name, ok := tickStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("tick_status(%d)", int(s))
}

// ParseTickStatus converts a status name back into a TickStatus.
func ParseTickStatus(name string) (TickStatus, error) {
	for s, n := range tickStatusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown tick status %q", name)
}

// TickExecution is the persisted record of one tick.
type TickExecution struct {
	ID         string
	Trigger    string
	Status     TickStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Processed  int
	Completed  int
	Failed     int
	Actions    []string
	Metadata   map[string]string
}

// TickFilter narrows ListTicks. Results are newest first.
type TickFilter struct {
	Status *TickStatus
	Since  time.Time
	Limit  int
}

// Store persists tick executions.
type Store interface {
	InsertTick(ctx context.Context, t *TickExecution) error
	UpdateTick(ctx context.Context, t *TickExecution) error
	ListTicks(ctx context.Context, f TickFilter) ([]*TickExecution, error)
	// LastTick returns the most recently started tick, or nil when none
	// exists.
	LastTick(ctx context.Context) (*TickExecution, error)
}

// WorkerState is a worker line of the tick summary.
type WorkerState struct {
	Code        string
	Status      string
	CurrentTask string
	Spent       float64
	Limit       float64
}

// TickResult summarizes one tick for its caller.
type TickResult struct {
	TickID       string
	Trigger      string
	StartedAt    time.Time
	Duration     time.Duration
	BudgetLevel  string
	Workers      []WorkerState
	Processed    int
	Completed    int
	Failed       int
	Actions      []string
	QuotaTripped bool
	NextTickIn   time.Duration
}
