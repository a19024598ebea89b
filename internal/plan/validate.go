package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/maestro-cli/maestro/internal/errors"
)

// Validate checks the structural soundness of a plan: unique task IDs,
// dependencies that reference known tasks in the same or an earlier
// wave, waves that only wait on prior waves, and an acyclic dependency
// graph. An empty plan is valid; it completes immediately on submit.
func Validate(p *Plan) error {
	if p == nil {
		return fmt.Errorf("%w: plan is nil", errors.ErrPlanInvalid)
	}

	var problems []string

	taskWave := make(map[string]int)
	for _, w := range p.Waves {
		for _, t := range w.Tasks {
			if t.ID == "" {
				problems = append(problems, fmt.Sprintf("wave %d contains a task with no ID", w.ID))
				continue
			}
			if _, dup := taskWave[t.ID]; dup {
				problems = append(problems, fmt.Sprintf("duplicate task ID %q", t.ID))
				continue
			}
			taskWave[t.ID] = w.ID
		}
	}

	for wi, w := range p.Waves {
		if w.ID != wi {
			problems = append(problems, fmt.Sprintf("wave at index %d has ID %d, waves must be numbered in sequence", wi, w.ID))
		}
		for _, dep := range w.Dependencies {
			if dep >= w.ID {
				problems = append(problems, fmt.Sprintf("wave %d depends on wave %d, waves may only wait on prior waves", w.ID, dep))
			}
		}
		for _, t := range w.Tasks {
			for _, depID := range t.DependsOn {
				if depID == t.ID {
					problems = append(problems, fmt.Sprintf("task %q depends on itself", t.ID))
					continue
				}
				depWave, known := taskWave[depID]
				if !known {
					problems = append(problems, fmt.Sprintf("task %q depends on unknown task %q", t.ID, depID))
					continue
				}
				if depWave > w.ID {
					problems = append(problems, fmt.Sprintf("task %q in wave %d depends on task %q in later wave %d", t.ID, w.ID, depID, depWave))
				}
			}
		}
	}

	if cycle := detectCycle(p); cycle != nil {
		problems = append(problems, fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrPlanInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// detectCycle runs a depth-first search over the task dependency graph
// and returns the IDs forming the first cycle found, or nil.
func detectCycle(p *Plan) []string {
	deps := make(map[string][]string)
	var ids []string
	for _, w := range p.Waves {
		for _, t := range w.Tasks {
			deps[t.ID] = t.DependsOn
			ids = append(ids, t.ID)
		}
	}
	sort.Strings(ids) // deterministic traversal order

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, depID := range deps[id] {
			if _, known := deps[depID]; !known {
				continue // unknown deps are reported separately
			}
			if onStack[depID] {
				// Slice the cycle out of the current path.
				for i, n := range stack {
					if n == depID {
						return append(append([]string{}, stack[i:]...), depID)
					}
				}
			}
			if !visited[depID] {
				if cycle := dfs(depID); cycle != nil {
					return cycle
				}
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range ids {
		if !visited[id] {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
