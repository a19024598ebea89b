// Package taskqueue provides a dependency-aware queue over a plan's
// tasks. Agents claim tasks one at a time; a task becomes claimable only
// once its dependencies have completed and every task in earlier waves
// has reached a terminal state. Queue state can be persisted to disk and
// restored across process restarts.
package taskqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/plan"
)

// Default maximum retries for failed tasks.
const defaultMaxRetries = 2

// Sentinel errors returned by queue operations.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Queue manages a plan's tasks with dependency- and wave-aware claiming.
// All methods are safe for concurrent use via an internal mutex.
type Queue struct {
	mu     sync.Mutex
	tasks  map[string]*QueuedTask // taskID -> task
	claims map[string]string      // taskID -> agentID
	order  []string               // task IDs in wave then insertion order
}

// NewFromPlan creates a Queue from a validated plan. Each plan.Task is
// embedded into a QueuedTask. Claim order follows the plan: waves in
// sequence, tasks within a wave in planner order.
func NewFromPlan(p *plan.Plan) *Queue {
	tasks := make(map[string]*QueuedTask, p.TotalTasks())
	order := make([]string, 0, p.TotalTasks())
	for _, w := range p.Waves {
		for _, pt := range w.Tasks {
			if pt.DependsOn == nil {
				pt.DependsOn = []string{}
			}
			tasks[pt.ID] = &QueuedTask{
				Task:       pt,
				Status:     TaskPending,
				MaxRetries: defaultMaxRetries,
			}
			order = append(order, pt.ID)
		}
	}

	return &Queue{
		tasks:  tasks,
		claims: make(map[string]string),
		order:  order,
	}
}

// newFromTasks creates a Queue from pre-built task maps and order.
// Used internally for loading persisted state.
func newFromTasks(tasks map[string]*QueuedTask, order []string) *Queue {
	claims := make(map[string]string)
	for id, task := range tasks {
		if task.ClaimedBy != "" {
			claims[id] = task.ClaimedBy
		}
	}
	return &Queue{
		tasks:  tasks,
		claims: claims,
		order:  order,
	}
}

// ClaimNext returns the next claimable task for the given agent.
// A task is claimable if it is pending, all its dependencies are
// completed, and every task in earlier waves is terminal.
// Returns nil with no error if no tasks are currently available.
func (q *Queue) ClaimNext(agentID string) (*QueuedTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if agentID == "" {
		return nil, errors.New("agentID must not be empty")
	}

	for _, id := range q.order {
		task := q.tasks[id]
		if q.isClaimable(task) {
			now := time.Now()
			task.Status = TaskClaimed
			task.ClaimedBy = agentID
			task.ClaimedAt = &now
			q.claims[task.ID] = agentID
			// Return a copy to avoid data races on the internal task pointer.
			cp := *task
			return &cp, nil
		}
	}
	return nil, nil
}

// MarkRunning transitions a claimed task to the running state.
func (q *Queue) MarkRunning(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskClaimed {
		return fmt.Errorf("%w: cannot transition %s from %s to running", ErrInvalidTransition, taskID, task.Status)
	}
	task.Status = TaskRunning
	return nil
}

// Complete marks a task as completed and returns the IDs of tasks
// that are newly claimable as a result.
func (q *Queue) Complete(taskID string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskRunning && task.Status != TaskClaimed {
		return nil, fmt.Errorf("%w: cannot complete task %s in status %s", ErrInvalidTransition, taskID, task.Status)
	}
	now := time.Now()
	task.Status = TaskCompleted
	task.CompletedAt = &now
	task.ClaimedBy = ""
	delete(q.claims, taskID)

	return q.unblockedBy(taskID), nil
}

// Fail marks a task as failed. If retries remain, the task is returned
// to pending status for re-claiming. Otherwise it is permanently failed,
// and any pending task whose dependency chain now contains a failed task
// is failed in turn so the queue still drains. The IDs of those
// cascade-failed tasks are returned.
func (q *Queue) Fail(taskID, failureContext string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskRunning && task.Status != TaskClaimed {
		return nil, fmt.Errorf("%w: cannot fail task %s in status %s", ErrInvalidTransition, taskID, task.Status)
	}

	task.RetryCount++
	task.FailureContext = failureContext

	if task.RetryCount <= task.MaxRetries {
		// Return to pending for retry
		task.Status = TaskPending
		task.ClaimedBy = ""
		task.ClaimedAt = nil
		delete(q.claims, taskID)
		return nil, nil
	}

	now := time.Now()
	task.Status = TaskFailed
	task.CompletedAt = &now
	task.ClaimedBy = ""
	delete(q.claims, taskID)

	return q.failUnreachable(), nil
}

// Release returns a claimed or running task back to pending status.
// Used for stale claim cleanup when an agent dies.
func (q *Queue) Release(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskClaimed && task.Status != TaskRunning {
		return fmt.Errorf("%w: cannot release task %s in status %s", ErrInvalidTransition, taskID, task.Status)
	}

	task.Status = TaskPending
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	delete(q.claims, taskID)
	return nil
}

// Status returns a snapshot of the current queue state counts.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStatus
	s.Total = len(q.tasks)
	for _, task := range q.tasks {
		switch task.Status {
		case TaskPending:
			s.Pending++
		case TaskClaimed:
			s.Claimed++
		case TaskRunning:
			s.Running++
		case TaskCompleted:
			s.Completed++
		case TaskFailed:
			s.Failed++
		}
	}
	return s
}

// IsComplete returns true when all tasks are in a terminal state
// (completed or permanently failed).
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, task := range q.tasks {
		if !task.Status.IsTerminal() {
			return false
		}
	}
	return len(q.tasks) > 0
}

// GetTask returns the task with the given ID, or nil if not found.
func (q *Queue) GetTask(taskID string) *QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil
	}
	cp := *task
	return &cp
}

// SetMaxRetries sets the maximum number of retries for the given task.
// The task must exist and be in a non-terminal state.
func (q *Queue) SetMaxRetries(taskID string, maxRetries int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot set max retries on %s task %s", ErrInvalidTransition, task.Status, taskID)
	}
	task.MaxRetries = maxRetries
	return nil
}

// ReleaseStaleClaimed releases tasks that have been claimed but not
// marked running before the given cutoff time. Returns the IDs of
// released tasks. Used for recovering from agents that died while
// holding a claim.
func (q *Queue) ReleaseStaleClaimed(cutoff time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var released []string
	for _, id := range q.order {
		task := q.tasks[id]
		if task.Status == TaskClaimed && task.ClaimedAt != nil && task.ClaimedAt.Before(cutoff) {
			task.Status = TaskPending
			task.ClaimedBy = ""
			task.ClaimedAt = nil
			delete(q.claims, task.ID)
			released = append(released, task.ID)
		}
	}
	return released
}

// AgentTasks returns all tasks claimed by or running on the given agent.
func (q *Queue) AgentTasks(agentID string) []*QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*QueuedTask
	for _, id := range q.order {
		task := q.tasks[id]
		if task.ClaimedBy == agentID {
			cp := *task
			result = append(result, &cp)
		}
	}
	return result
}
