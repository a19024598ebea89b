package taskqueue

import (
	"sync"
	"time"

	"github.com/maestro-cli/maestro/internal/event"
)

// EventQueue wraps a Queue and publishes events to an event bus whenever
// queue operations occur.
type EventQueue struct {
	mu  sync.Mutex
	q   *Queue
	bus *event.Bus
}

// NewEventQueue creates an EventQueue that publishes events on the given bus.
func NewEventQueue(q *Queue, bus *event.Bus) *EventQueue {
	return &EventQueue{q: q, bus: bus}
}

// ClaimNext claims the next available task and publishes a
// TaskClaimedEvent and a QueueDepthChangedEvent.
func (eq *EventQueue) ClaimNext(agentID string) (*QueuedTask, error) {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	task, err := eq.q.ClaimNext(agentID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	eq.publish(event.NewTaskClaimedEvent(task.ID, agentID))
	eq.publishDepth()
	return task, nil
}

// MarkRunning transitions a task to running and publishes a
// QueueDepthChangedEvent.
func (eq *EventQueue) MarkRunning(taskID string) error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if err := eq.q.MarkRunning(taskID); err != nil {
		return err
	}
	eq.publishDepth()
	return nil
}

// Complete marks a task completed and publishes a TaskCompletedEvent and
// a QueueDepthChangedEvent. Returns the list of newly unblocked task IDs.
func (eq *EventQueue) Complete(taskID, agentID, message string) ([]string, error) {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	unblocked, err := eq.q.Complete(taskID)
	if err != nil {
		return nil, err
	}
	eq.publish(event.NewTaskCompletedEvent(taskID, agentID, message))
	eq.publishDepth()
	return unblocked, nil
}

// Fail marks a task as failed. When the failure is permanent a
// TaskFailedEvent is published for the task and for every pending task
// the failure made unreachable; a retryable failure publishes only a
// QueueDepthChangedEvent.
func (eq *EventQueue) Fail(taskID, failureContext string, iterations int, escalated bool) error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	cascaded, err := eq.q.Fail(taskID, failureContext)
	if err != nil {
		return err
	}
	if t := eq.q.GetTask(taskID); t != nil && t.Status == TaskFailed {
		eq.publish(event.NewTaskFailedEvent(taskID, failureContext, iterations, escalated))
	}
	for _, id := range cascaded {
		eq.publish(event.NewTaskFailedEvent(id, "dependency failed: "+taskID, 0, false))
	}
	eq.publishDepth()
	return nil
}

// Release returns a task to the queue and publishes TaskReleasedEvent
// and QueueDepthChangedEvent.
func (eq *EventQueue) Release(taskID, reason string) error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if err := eq.q.Release(taskID); err != nil {
		return err
	}
	eq.publish(event.NewTaskReleasedEvent(taskID, reason))
	eq.publishDepth()
	return nil
}

// Status returns the current queue status snapshot.
func (eq *EventQueue) Status() QueueStatus {
	return eq.q.Status()
}

// IsComplete returns true when all tasks are in a terminal state.
func (eq *EventQueue) IsComplete() bool {
	return eq.q.IsComplete()
}

// GetTask returns the task with the given ID.
func (eq *EventQueue) GetTask(taskID string) *QueuedTask {
	return eq.q.GetTask(taskID)
}

// AgentTasks returns all tasks for the given agent.
func (eq *EventQueue) AgentTasks(agentID string) []*QueuedTask {
	return eq.q.AgentTasks(agentID)
}

// SaveState persists the queue state to disk.
func (eq *EventQueue) SaveState(dir string) error {
	return eq.q.SaveState(dir)
}

// ReleaseStaleBefore releases tasks that have been claimed but not
// marked running before the given cutoff time, publishing a
// TaskReleasedEvent for each.
func (eq *EventQueue) ReleaseStaleBefore(cutoff time.Time) []string {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	released := eq.q.ReleaseStaleClaimed(cutoff)

	for _, id := range released {
		eq.publish(event.NewTaskReleasedEvent(id, "stale_claim"))
	}
	if len(released) > 0 {
		eq.publishDepth()
	}
	return released
}

// publishDepth publishes a QueueDepthChangedEvent with current counts.
// Must be called while eq.mu is held.
func (eq *EventQueue) publishDepth() {
	s := eq.q.Status()
	eq.publish(event.NewQueueDepthChangedEvent(
		s.Pending, s.Claimed, s.Running, s.Completed, s.Failed, s.Total,
	))
}

func (eq *EventQueue) publish(e event.Event) {
	eq.bus.PublishFrom("taskqueue", e)
}

// Ensure the event types satisfy the Event interface at compile time.
var (
	_ event.Event = event.TaskClaimedEvent{}
	_ event.Event = event.TaskReleasedEvent{}
	_ event.Event = event.QueueDepthChangedEvent{}
)
