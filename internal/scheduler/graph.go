package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// ValidateGraph checks a task set the way the scheduler needs it:
// ids are unique, every dependency resolves to a task in the same set, and the
// dependency graph has no cycle (gammazero/toposort).
// Returns task ids in dependency order.
func ValidateGraph(tasks []Task) ([]string, error) {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: task with empty id", ErrValidation)
		}
		if ids[t.ID] {
			return nil, fmt.Errorf("%w: duplicate task id %q", ErrValidation, t.ID)
		}
		ids[t.ID] = true
	}

	if err := ValidateDeps(tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return []string{}, nil
	}

	// Edge (dep, task) means dep must come before task
	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.Deps) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.Deps {
			if dep == t.ID {
				return nil, fmt.Errorf("%w: task %q depends on itself", ErrValidation, t.ID)
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: dependency graph contains cycle: %v", ErrValidation, err)
	}

	order := make([]string, 0, len(sorted))
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
		for _, t := range tasks {
			if !found[t.ID] {
				missing = append(missing, t.ID)
			}
		}
		return nil, fmt.Errorf("%w: topological sort lost %d tasks: %s", ErrValidation, len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// ValidateDeps verifies that every dependency names a task in tasks.
func ValidateDeps(tasks []Task) error {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.Deps {
			if !ids[dep] {
				return fmt.Errorf("%w: task %q depends on unknown task id %q", ErrValidation, t.ID, dep)
			}
		}
	}
	return nil
}

// ValidateOrder checks that order lists every task id exactly once.
func ValidateOrder(tasks []Task, order []string) error {
	if len(order) != len(tasks) {
		return fmt.Errorf("%w: task order has %d entries for %d tasks", ErrValidation, len(order), len(tasks))
	}
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if !ids[id] {
			return fmt.Errorf("%w: task order references unknown task id %q", ErrValidation, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: task order lists %q twice", ErrValidation, id)
		}
		seen[id] = true
	}
	return nil
}

// depsCompleted reports whether every dependency of t is Completed.
func depsCompleted(t Task, byID map[string]Task) bool {
	for _, dep := range t.Deps {
		d, ok := byID[dep]
		if !ok || d.State != TaskCompleted {
			return false
		}
	}
	return true
}

// failedDep returns the first dependency of t that ended Failed, Cancelled or Blocked.
func failedDep(t Task, byID map[string]Task) (string, bool) {
	for _, dep := range t.Deps {
		if d, ok := byID[dep]; ok && d.State.failedOutcome() {
			return dep, true
		}
	}
	return "", false
}
