package orchestrator

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// ValidateStages checks a template's stage graph: every stage needs a role
// and title, every dependsOn must name another stage, and the graph must be
// acyclic. It returns the stage indexes in execution order.
func ValidateStages(stages []StageTemplate) ([]int, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline has no stages")
	}

	var edges []toposort.Edge
	roots := 0
	for i, st := range stages {
		if st.Role == "" && st.Worker == "" {
			return nil, fmt.Errorf("stage %d: role or worker is required", i)
		}
		if st.Title == "" {
			return nil, fmt.Errorf("stage %d: title is required", i)
		}
		if st.DependsOn == nil {
			roots++
			edges = append(edges, toposort.Edge{nil, i})
			continue
		}
		dep := *st.DependsOn
		if dep == i {
			return nil, fmt.Errorf("stage %d depends on itself", i)
		}
		if dep < 0 || dep >= len(stages) {
			return nil, fmt.Errorf("stage %d depends on non-existent stage %d", i, dep)
		}
		edges = append(edges, toposort.Edge{dep, i})
	}
	if roots == 0 {
		return nil, fmt.Errorf("pipeline has no starting stage")
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("stage graph contains cycle: %w", err)
	}

	order := make([]int, 0, len(stages))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(int))
		}
	}
	if len(order) != len(stages) {
		found := make(map[int]bool, len(order))
		for _, i := range order {
			found[i] = true
		}
		var missing []string
		for i := range stages {
			if !found[i] {
				missing = append(missing, fmt.Sprint(i))
			}
		}
		return nil, fmt.Errorf("stage graph lost %d stages: %s", len(missing), strings.Join(missing, ", "))
	}
	return order, nil
}
