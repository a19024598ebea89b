// Package plan defines the task plans Maestro executes: tasks grouped
// into dependency-ordered waves. Tasks within a wave may run
// concurrently; waves run strictly in sequence.
package plan

// TaskType categorizes what kind of change a task makes.
type TaskType string

const (
	TypeFeature  TaskType = "feature"
	TypeBugfix   TaskType = "bugfix"
	TypeRefactor TaskType = "refactor"
	TypeTest     TaskType = "test"
	TypeDocs     TaskType = "docs"
)

// IsValid returns true if this is a recognized task type.
func (t TaskType) IsValid() bool {
	switch t {
	case TypeFeature, TypeBugfix, TypeRefactor, TypeTest, TypeDocs:
		return true
	default:
		return false
	}
}

// TaskSize is a coarse estimate of a task's scope.
type TaskSize string

const (
	// SizeSmall indicates a well-scoped task expected to complete
	// quickly: a single function, a typo fix, an import update.
	SizeSmall TaskSize = "small"

	// SizeMedium indicates a task that may touch multiple files but
	// has clear boundaries.
	SizeMedium TaskSize = "medium"

	// SizeLarge indicates significant work. Large tasks are better
	// split before planning finishes.
	SizeLarge TaskSize = "large"
)

// IsValid returns true if this is a recognized size value.
func (s TaskSize) IsValid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	default:
		return false
	}
}

// Task is a single unit of agent work. Each task executes in its own
// worktree and passes the QA loop before it counts as completed.
type Task struct {
	// ID uniquely identifies the task within the plan.
	ID string `json:"id"`

	// Name is a short human-readable label.
	Name string `json:"name"`

	// Description carries the full instructions for the executing
	// agent. It should stand alone without additional context.
	Description string `json:"description"`

	// Type categorizes the change.
	Type TaskType `json:"type,omitempty"`

	// Size is the estimated scope of the task.
	Size TaskSize `json:"size,omitempty"`

	// EstimatedMinutes is the planner's time estimate.
	EstimatedMinutes int `json:"estimated_minutes,omitempty"`

	// DependsOn lists task IDs that must complete first. Dependencies
	// must live in the same or an earlier wave.
	DependsOn []string `json:"depends_on,omitempty"`

	// WaveID is the wave this task belongs to, assigned by the planner.
	WaveID int `json:"wave_id"`
}

// Wave is a dependency-ordered batch of tasks that may run concurrently.
type Wave struct {
	// ID is the wave's sequence index, starting at 0.
	ID int `json:"id"`

	// Tasks are the wave's members.
	Tasks []Task `json:"tasks"`

	// Dependencies lists prior wave IDs this wave waits on.
	Dependencies []int `json:"dependencies,omitempty"`
}

// Plan is a complete submission: waves consumed sequentially by the
// scheduler.
type Plan struct {
	Waves []Wave `json:"waves"`
}

// TotalTasks returns the number of tasks across all waves.
func (p *Plan) TotalTasks() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w.Tasks)
	}
	return n
}

// TaskByID returns the task with the given ID, or nil.
func (p *Plan) TaskByID(id string) *Task {
	for wi := range p.Waves {
		for ti := range p.Waves[wi].Tasks {
			if p.Waves[wi].Tasks[ti].ID == id {
				return &p.Waves[wi].Tasks[ti]
			}
		}
	}
	return nil
}

// TaskIDs returns all task IDs in wave order.
func (p *Plan) TaskIDs() []string {
	ids := make([]string, 0, p.TotalTasks())
	for _, w := range p.Waves {
		for _, t := range w.Tasks {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
