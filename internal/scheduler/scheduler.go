// Package scheduler executes plans wave by wave. A submitted plan gets
// an execution handle; the scheduler learns about task outcomes solely
// through task.completed and task.failed events on the bus, advances the
// current wave when every task in it is accounted for, and reports
// wave and plan boundaries through bus events and registered callbacks.
//
// Wave advancement is optimistic: a permanently failed task counts as
// accounted-for, so one failure cannot wedge the waves behind it.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/event"
	"github.com/maestro-cli/maestro/internal/logging"
	"github.com/maestro-cli/maestro/internal/plan"
)

// ExecutionState is the lifecycle state of a submitted plan.
type ExecutionState string

const (
	// StateRunning indicates the plan still has unaccounted tasks.
	StateRunning ExecutionState = "running"

	// StateCompleted indicates every task reached a terminal outcome.
	StateCompleted ExecutionState = "completed"

	// StateAborted indicates the plan was cancelled. Aborted executions
	// ignore further task events and never fire callbacks again.
	StateAborted ExecutionState = "aborted"
)

// Status is a point-in-time snapshot of an execution.
type Status struct {
	HandleID       string
	State          ExecutionState
	CurrentWave    int
	TotalWaves     int
	CompletedTasks int
	FailedTasks    int
	PendingTasks   int
	TotalTasks     int
}

// WaveCallback observes a wave boundary: the wave that closed and its
// completed/failed split.
type WaveCallback func(waveID, completed, failed int)

// PlanCallback observes plan completion with final task counts.
type PlanCallback func(completed, failed int)

// waveState tracks accounting for one wave.
type waveState struct {
	id        int
	pending   map[string]struct{} // task IDs not yet accounted for
	completed int
	failed    int
}

// execution is the scheduler's record of one submitted plan.
type execution struct {
	id             string
	state          ExecutionState
	waves          []*waveState
	taskWave       map[string]int // taskID -> index into waves
	currentWave    int
	totalTasks     int
	completedTasks int
	failedTasks    int

	waveCallbacks map[uint64]WaveCallback
	planCallbacks map[uint64]PlanCallback
	nextCallback  uint64
}

// Scheduler tracks concurrent plan executions. Task events are routed to
// their owning execution by task ID, so plans submitted side by side
// never interfere as long as their task IDs are distinct.
type Scheduler struct {
	bus    *event.Bus
	logger *logging.Logger

	mu         sync.Mutex
	executions map[string]*execution
	taskOwner  map[string]string // taskID -> handleID

	subIDs []string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for the scheduler.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a Scheduler listening for task outcomes on the given bus.
func New(bus *event.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		bus:        bus,
		logger:     logging.NopLogger(),
		executions: make(map[string]*execution),
		taskOwner:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.subIDs = append(s.subIDs,
		bus.Subscribe("task.completed", func(e event.Event) {
			if te, ok := event.Unwrap(e).(event.TaskCompletedEvent); ok {
				s.accountTask(te.TaskID, false)
			}
		}),
		bus.Subscribe("task.failed", func(e event.Event) {
			if te, ok := event.Unwrap(e).(event.TaskFailedEvent); ok {
				s.accountTask(te.TaskID, true)
			}
		}),
	)
	return s
}

// Close detaches the scheduler from the bus. Executions stop receiving
// task outcomes; pending plans stay in their current state.
func (s *Scheduler) Close() {
	for _, id := range s.subIDs {
		s.bus.Unsubscribe(id)
	}
	s.subIDs = nil
}

// SubmitPlan validates and registers a plan for execution, returning its
// handle. An empty plan completes immediately. Task IDs must not collide
// with those of any other live execution.
func (s *Scheduler) SubmitPlan(p *plan.Plan) (*Handle, error) {
	if err := plan.Validate(p); err != nil {
		return nil, err
	}

	s.mu.Lock()

	for _, id := range p.TaskIDs() {
		if owner, taken := s.taskOwner[id]; taken {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: task %q already owned by execution %s",
				errors.ErrPlanInvalid, id, owner)
		}
	}

	exec := &execution{
		id:            uuid.NewString(),
		state:         StateRunning,
		taskWave:      make(map[string]int),
		totalTasks:    p.TotalTasks(),
		waveCallbacks: make(map[uint64]WaveCallback),
		planCallbacks: make(map[uint64]PlanCallback),
	}
	for _, w := range p.Waves {
		ws := &waveState{id: w.ID, pending: make(map[string]struct{}, len(w.Tasks))}
		for _, t := range w.Tasks {
			ws.pending[t.ID] = struct{}{}
			exec.taskWave[t.ID] = len(exec.waves)
			s.taskOwner[t.ID] = exec.id
		}
		exec.waves = append(exec.waves, ws)
	}
	s.executions[exec.id] = exec

	// Skip leading empty waves; an entirely empty plan completes here.
	notify := s.advanceLocked(exec)
	s.mu.Unlock()

	s.dispatch(notify)

	s.logger.Info("plan submitted",
		"handle_id", exec.id,
		"waves", len(exec.waves),
		"tasks", exec.totalTasks,
	)
	return &Handle{ID: exec.id, scheduler: s}, nil
}

// ExecutionStatus returns a snapshot of the execution's progress.
func (s *Scheduler) ExecutionStatus(handleID string) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[handleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrHandleNotFound, handleID)
	}
	return &Status{
		HandleID:       exec.id,
		State:          exec.state,
		CurrentWave:    exec.currentWave,
		TotalWaves:     len(exec.waves),
		CompletedTasks: exec.completedTasks,
		FailedTasks:    exec.failedTasks,
		PendingTasks:   exec.totalTasks - exec.completedTasks - exec.failedTasks,
		TotalTasks:     exec.totalTasks,
	}, nil
}

// IsComplete returns true once every task in the plan is accounted for.
// Aborted executions report false.
func (s *Scheduler) IsComplete(handleID string) (bool, error) {
	st, err := s.ExecutionStatus(handleID)
	if err != nil {
		return false, err
	}
	return st.State == StateCompleted, nil
}

// Abort cancels an execution. Further task events for its tasks are
// ignored and its callbacks are permanently silenced. Aborting a
// finished or already aborted execution is a no-op.
func (s *Scheduler) Abort(handleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[handleID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrHandleNotFound, handleID)
	}
	if exec.state != StateRunning {
		return nil
	}

	exec.state = StateAborted
	exec.waveCallbacks = make(map[uint64]WaveCallback)
	exec.planCallbacks = make(map[uint64]PlanCallback)
	for id, owner := range s.taskOwner {
		if owner == handleID {
			delete(s.taskOwner, id)
		}
	}

	s.logger.Info("plan aborted", "handle_id", handleID)
	return nil
}

// OnWaveComplete registers a callback fired exactly once per wave
// boundary. The returned function unsubscribes the callback.
func (s *Scheduler) OnWaveComplete(handleID string, fn WaveCallback) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[handleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrHandleNotFound, handleID)
	}
	id := exec.nextCallback
	exec.nextCallback++
	exec.waveCallbacks[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(exec.waveCallbacks, id)
	}, nil
}

// OnPlanComplete registers a callback fired exactly once when the last
// task is accounted for. Registering on an already completed execution
// fires the callback immediately. The returned function unsubscribes.
func (s *Scheduler) OnPlanComplete(handleID string, fn PlanCallback) (func(), error) {
	s.mu.Lock()

	exec, ok := s.executions[handleID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errors.ErrHandleNotFound, handleID)
	}

	if exec.state == StateCompleted {
		completed, failed := exec.completedTasks, exec.failedTasks
		s.mu.Unlock()
		fn(completed, failed)
		return func() {}, nil
	}

	id := exec.nextCallback
	exec.nextCallback++
	exec.planCallbacks[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(exec.planCallbacks, id)
	}, nil
}

// accountTask records a terminal outcome for a task and advances its
// owning execution. Events for unowned tasks are ignored, so plans only
// ever see their own outcomes.
func (s *Scheduler) accountTask(taskID string, failed bool) {
	s.mu.Lock()

	handleID, owned := s.taskOwner[taskID]
	if !owned {
		s.mu.Unlock()
		return
	}
	exec := s.executions[handleID]
	if exec == nil || exec.state != StateRunning {
		s.mu.Unlock()
		return
	}

	// Outcomes land in the task's owning wave, not the current one: the
	// queue fails dependents in later waves the moment their dependency
	// fails permanently, so events can arrive ahead of the wave order.
	ws := exec.waves[exec.taskWave[taskID]]
	if _, pending := ws.pending[taskID]; !pending {
		// Reported twice; the first outcome is authoritative.
		s.mu.Unlock()
		return
	}
	delete(ws.pending, taskID)
	delete(exec.taskWave, taskID)
	delete(s.taskOwner, taskID)
	if failed {
		ws.failed++
		exec.failedTasks++
	} else {
		ws.completed++
		exec.completedTasks++
	}

	notify := s.advanceLocked(exec)
	s.mu.Unlock()

	s.dispatch(notify)
}

// notification carries callback and event work out of the locked region;
// callbacks and bus handlers may call back into the scheduler.
type notification struct {
	events        []event.Event
	waveCallbacks []func()
	planCallbacks []func()
}

// advanceLocked closes finished waves, moving the current wave forward
// and collecting the boundary notifications to dispatch after unlock.
// Must be called with s.mu held.
func (s *Scheduler) advanceLocked(exec *execution) *notification {
	n := &notification{}

	for exec.currentWave < len(exec.waves) {
		ws := exec.waves[exec.currentWave]
		if len(ws.pending) > 0 {
			return n
		}

		n.events = append(n.events, event.NewWaveCompletedEvent(exec.id, ws.id, ws.completed, ws.failed))
		for _, fn := range exec.waveCallbacks {
			fn, waveID, completed, failed := fn, ws.id, ws.completed, ws.failed
			n.waveCallbacks = append(n.waveCallbacks, func() { fn(waveID, completed, failed) })
		}
		exec.currentWave++
	}

	exec.state = StateCompleted
	n.events = append(n.events, event.NewPlanCompletedEvent(exec.id, exec.completedTasks, exec.failedTasks))
	for _, fn := range exec.planCallbacks {
		fn, completed, failed := fn, exec.completedTasks, exec.failedTasks
		n.planCallbacks = append(n.planCallbacks, func() { fn(completed, failed) })
	}
	exec.planCallbacks = make(map[uint64]PlanCallback)

	s.logger.Info("plan completed",
		"handle_id", exec.id,
		"completed", exec.completedTasks,
		"failed", exec.failedTasks,
	)
	return n
}

// dispatch delivers collected notifications outside the scheduler lock.
func (s *Scheduler) dispatch(n *notification) {
	if n == nil {
		return
	}
	for _, e := range n.events {
		s.bus.PublishFrom("scheduler", e)
	}
	for _, fn := range n.waveCallbacks {
		fn()
	}
	for _, fn := range n.planCallbacks {
		fn()
	}
}
