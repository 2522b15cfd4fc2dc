package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gammazero/toposort"
)

// ValidateGraph checks that the dependency graph formed by tasks is acyclic
// and that every dependency is either in tasks or in known. It returns the
// task ids in dependency order.
func ValidateGraph(tasks []*Task, known map[string]bool) ([]string, error) {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		local := 0
		for _, dep := range t.DependsOn {
			if ids[dep] {
				edges = append(edges, toposort.Edge{dep, t.ID})
				local++
				continue
			}
			if !known[dep] {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
		if local == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(tasks) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("task graph lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}
	return order, nil
}

// Validate checks the live graph of unfinished tasks. Tasks that fail this
// check can never become executable.
func (q *Queue) Validate(ctx context.Context) ([]string, error) {
	open, err := q.store.ListTasks(ctx, Filter{
		Statuses:   []Status{StatusPending, StatusAssigned, StatusInProgress, StatusBlocked, StatusDelegated},
		ActiveOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}

	ids := make(map[string]bool, len(open))
	for _, t := range open {
		ids[t.ID] = true
	}
	var external []string
	for _, t := range open {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				external = append(external, dep)
			}
		}
	}

	known := make(map[string]bool, len(external))
	if len(external) > 0 {
		done, err := q.store.GetTasks(ctx, external)
		if err != nil {
			return nil, fmt.Errorf("load dependencies: %w", err)
		}
		for _, t := range done {
			known[t.ID] = true
		}
	}
	return ValidateGraph(open, known)
}

// Stats summarizes the queue.
type Stats struct {
	ByStatus  map[Status]int
	TotalCost float64
}

// Stats counts active tasks per status and sums task cost since the given time.
func (q *Queue) Stats(ctx context.Context, since time.Time) (Stats, error) {
	st := Stats{ByStatus: make(map[Status]int, len(statusNames))}
	for s := range statusNames {
		n, err := q.store.CountTasks(ctx, Filter{Statuses: []Status{s}, ActiveOnly: true})
		if err != nil {
			return st, fmt.Errorf("count %s tasks: %w", s, err)
		}
		st.ByStatus[s] = n
	}
	cost, err := q.store.SumTaskCost(ctx, since)
	if err != nil {
		return st, fmt.Errorf("sum task cost: %w", err)
	}
	st.TotalCost = cost
	return st, nil
}
