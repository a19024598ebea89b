package scheduler

// Handle identifies a submitted plan and provides convenience accessors
// that delegate to the owning scheduler.
type Handle struct {
	// ID uniquely identifies the execution.
	ID string

	scheduler *Scheduler
}

// Status returns the execution's current progress snapshot.
func (h *Handle) Status() (*Status, error) {
	return h.scheduler.ExecutionStatus(h.ID)
}

// IsComplete returns true once every task is accounted for.
func (h *Handle) IsComplete() (bool, error) {
	return h.scheduler.IsComplete(h.ID)
}

// Abort cancels the execution.
func (h *Handle) Abort() error {
	return h.scheduler.Abort(h.ID)
}

// OnWaveComplete registers a wave boundary callback.
func (h *Handle) OnWaveComplete(fn WaveCallback) (func(), error) {
	return h.scheduler.OnWaveComplete(h.ID, fn)
}

// OnPlanComplete registers a plan completion callback.
func (h *Handle) OnPlanComplete(fn PlanCallback) (func(), error) {
	return h.scheduler.OnPlanComplete(h.ID, fn)
}
