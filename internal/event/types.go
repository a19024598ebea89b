// Package event defines the event bus and event types that decouple
// Maestro's components. The scheduler learns about task outcomes, the QA
// loop reports its progress, and UI collaborators observe everything
// through these events without direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.completed", "qa.escalation")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// Source identifies the component that published the event, or ""
	// when the publisher did not attribute itself.
	Source() string
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }
func (e baseEvent) Source() string       { return "" }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// sourcedEvent wraps an event with publisher attribution for PublishFrom.
type sourcedEvent struct {
	Event
	source string
}

func (e sourcedEvent) Source() string { return e.source }

// Unwrap returns the underlying event when e carries source attribution,
// or e itself otherwise. Handlers use it before asserting a concrete
// event type.
func Unwrap(e Event) Event {
	if se, ok := e.(sourcedEvent); ok {
		return se.Event
	}
	return e
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskCompletedEvent is emitted when a task's work has been verified and
// accepted. The wave scheduler advances on these.
type TaskCompletedEvent struct {
	baseEvent
	TaskID  string // Task identifier from the plan
	AgentID string // Agent that executed the task (empty if unknown)
	Message string // Additional context about the completion
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, agentID, message string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent("task.completed"),
		TaskID:    taskID,
		AgentID:   agentID,
		Message:   message,
	}
}

// TaskFailedEvent is emitted when a task permanently fails. Failed tasks
// still count toward wave accounting so one failure cannot wedge a plan.
type TaskFailedEvent struct {
	baseEvent
	TaskID     string // The failed task ID
	Reason     string // Why the task failed
	Iterations int    // QA iterations consumed before failing
	Escalated  bool   // Whether the failure was escalated to a human
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(taskID, reason string, iterations int, escalated bool) TaskFailedEvent {
	return TaskFailedEvent{
		baseEvent:  newBaseEvent("task.failed"),
		TaskID:     taskID,
		Reason:     reason,
		Iterations: iterations,
		Escalated:  escalated,
	}
}

// TaskClaimedEvent is emitted when an agent claims a task from the queue.
type TaskClaimedEvent struct {
	baseEvent
	TaskID  string
	AgentID string
}

// NewTaskClaimedEvent creates a TaskClaimedEvent.
func NewTaskClaimedEvent(taskID, agentID string) TaskClaimedEvent {
	return TaskClaimedEvent{
		baseEvent: newBaseEvent("task.claimed"),
		TaskID:    taskID,
		AgentID:   agentID,
	}
}

// TaskReleasedEvent is emitted when a claimed task is returned to the queue.
type TaskReleasedEvent struct {
	baseEvent
	TaskID string
	Reason string // e.g., "stale_claim", "agent_shutdown"
}

// NewTaskReleasedEvent creates a TaskReleasedEvent.
func NewTaskReleasedEvent(taskID, reason string) TaskReleasedEvent {
	return TaskReleasedEvent{
		baseEvent: newBaseEvent("task.released"),
		TaskID:    taskID,
		Reason:    reason,
	}
}

// QueueDepthChangedEvent is emitted whenever queue state counts change.
type QueueDepthChangedEvent struct {
	baseEvent
	Pending   int
	Claimed   int
	Running   int
	Completed int
	Failed    int
	Total     int
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(pending, claimed, running, completed, failed, total int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent("queue.depth_changed"),
		Pending:   pending,
		Claimed:   claimed,
		Running:   running,
		Completed: completed,
		Failed:    failed,
		Total:     total,
	}
}

// -----------------------------------------------------------------------------
// QA Loop Events
// -----------------------------------------------------------------------------

// QAIterationStartedEvent is emitted at the start of each QA loop iteration.
type QAIterationStartedEvent struct {
	baseEvent
	TaskID    string
	Iteration int // 1-based iteration number
	Max       int // Configured maximum iterations
}

// NewQAIterationStartedEvent creates a QAIterationStartedEvent.
func NewQAIterationStartedEvent(taskID string, iteration, max int) QAIterationStartedEvent {
	return QAIterationStartedEvent{
		baseEvent: newBaseEvent("qa.iteration.started"),
		TaskID:    taskID,
		Iteration: iteration,
		Max:       max,
	}
}

// QAIterationCompletedEvent is emitted when a QA loop iteration finishes.
type QAIterationCompletedEvent struct {
	baseEvent
	TaskID       string
	Iteration    int
	Passed       bool     // True when all four stages passed
	FailedStages []string // Names of stages that failed this iteration
}

// NewQAIterationCompletedEvent creates a QAIterationCompletedEvent.
func NewQAIterationCompletedEvent(taskID string, iteration int, passed bool, failedStages []string) QAIterationCompletedEvent {
	return QAIterationCompletedEvent{
		baseEvent:    newBaseEvent("qa.iteration.completed"),
		TaskID:       taskID,
		Iteration:    iteration,
		Passed:       passed,
		FailedStages: failedStages,
	}
}

// QAEscalationEvent is emitted when the QA loop exhausts its iteration
// budget without success. This is the signal for human attention; it is a
// terminal outcome, not a program error.
type QAEscalationEvent struct {
	baseEvent
	TaskID     string
	Iterations int      // Iterations consumed before escalating
	Errors     []string // Final error set from the last iteration
}

// NewQAEscalationEvent creates a QAEscalationEvent.
func NewQAEscalationEvent(taskID string, iterations int, errs []string) QAEscalationEvent {
	return QAEscalationEvent{
		baseEvent:  newBaseEvent("qa.escalation"),
		TaskID:     taskID,
		Iterations: iterations,
		Errors:     errs,
	}
}

// -----------------------------------------------------------------------------
// Wave/Plan Events
// -----------------------------------------------------------------------------

// WaveCompletedEvent is emitted when every task in a wave is accounted for
// (completed or permanently failed) and the scheduler advances.
type WaveCompletedEvent struct {
	baseEvent
	HandleID  string // Execution handle owning the wave
	WaveID    int    // The wave that completed
	Completed int    // Tasks completed successfully in the wave
	Failed    int    // Tasks that failed in the wave
}

// NewWaveCompletedEvent creates a WaveCompletedEvent.
func NewWaveCompletedEvent(handleID string, waveID, completed, failed int) WaveCompletedEvent {
	return WaveCompletedEvent{
		baseEvent: newBaseEvent("wave.completed"),
		HandleID:  handleID,
		WaveID:    waveID,
		Completed: completed,
		Failed:    failed,
	}
}

// PlanCompletedEvent is emitted once when the last wave's last task is
// accounted for.
type PlanCompletedEvent struct {
	baseEvent
	HandleID       string
	CompletedTasks int
	FailedTasks    int
}

// NewPlanCompletedEvent creates a PlanCompletedEvent.
func NewPlanCompletedEvent(handleID string, completedTasks, failedTasks int) PlanCompletedEvent {
	return PlanCompletedEvent{
		baseEvent:      newBaseEvent("plan.completed"),
		HandleID:       handleID,
		CompletedTasks: completedTasks,
		FailedTasks:    failedTasks,
	}
}

// -----------------------------------------------------------------------------
// Worktree Events
// -----------------------------------------------------------------------------

// WorktreeCreatedEvent is emitted when a worktree is materialized for a task.
type WorktreeCreatedEvent struct {
	baseEvent
	TaskID string
	Path   string
	Branch string
}

// NewWorktreeCreatedEvent creates a WorktreeCreatedEvent.
func NewWorktreeCreatedEvent(taskID, path, branch string) WorktreeCreatedEvent {
	return WorktreeCreatedEvent{
		baseEvent: newBaseEvent("worktree.created"),
		TaskID:    taskID,
		Path:      path,
		Branch:    branch,
	}
}

// WorktreeRemovedEvent is emitted when a worktree is removed, whether by an
// explicit remove or by staleness cleanup.
type WorktreeRemovedEvent struct {
	baseEvent
	TaskID string
	Path   string
	Reason string // "removed" or "stale"
}

// NewWorktreeRemovedEvent creates a WorktreeRemovedEvent.
func NewWorktreeRemovedEvent(taskID, path, reason string) WorktreeRemovedEvent {
	return WorktreeRemovedEvent{
		baseEvent: newBaseEvent("worktree.removed"),
		TaskID:    taskID,
		Path:      path,
		Reason:    reason,
	}
}

// RegistryChangedEvent is emitted by the registry watcher when the on-disk
// registry file is modified outside the current process.
type RegistryChangedEvent struct {
	baseEvent
	Path string // Path to the registry file
}

// NewRegistryChangedEvent creates a RegistryChangedEvent.
func NewRegistryChangedEvent(path string) RegistryChangedEvent {
	return RegistryChangedEvent{
		baseEvent: newBaseEvent("worktree.registry_changed"),
		Path:      path,
	}
}
