package scheduler

import (
	"testing"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/event"
	"github.com/maestro-cli/maestro/internal/plan"
)

func twoWavePlan() *plan.Plan {
	return &plan.Plan{
		Waves: []plan.Wave{
			{ID: 0, Tasks: []plan.Task{
				{ID: "task-a", WaveID: 0},
				{ID: "task-b", WaveID: 0},
			}},
			{ID: 1, Dependencies: []int{0}, Tasks: []plan.Task{
				{ID: "task-c", DependsOn: []string{"task-a"}, WaveID: 1},
			}},
		},
	}
}

func complete(bus *event.Bus, taskID string) {
	bus.Publish(event.NewTaskCompletedEvent(taskID, "agent-1", ""))
}

func fail(bus *event.Bus, taskID string) {
	bus.Publish(event.NewTaskFailedEvent(taskID, "broken", 3, true))
}

func TestSubmitPlan(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	h, err := s.SubmitPlan(twoWavePlan())
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}
	if h.ID == "" {
		t.Fatal("handle has no ID")
	}

	st, err := h.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := Status{
		HandleID: h.ID, State: StateRunning,
		CurrentWave: 0, TotalWaves: 2,
		PendingTasks: 3, TotalTasks: 3,
	}
	if *st != want {
		t.Errorf("Status = %+v, want %+v", *st, want)
	}
}

func TestSubmitInvalidPlan(t *testing.T) {
	s := New(event.NewBus())
	defer s.Close()

	p := twoWavePlan()
	p.Waves[1].Tasks[0].DependsOn = []string{"task-zz"}
	if _, err := s.SubmitPlan(p); !errors.Is(err, errors.ErrPlanInvalid) {
		t.Errorf("SubmitPlan = %v, want ErrPlanInvalid", err)
	}
}

func TestSubmitEmptyPlanCompletesImmediately(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	var planEvents []event.PlanCompletedEvent
	bus.Subscribe("plan.completed", func(e event.Event) {
		planEvents = append(planEvents, event.Unwrap(e).(event.PlanCompletedEvent))
	})

	h, err := s.SubmitPlan(&plan.Plan{})
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	done, err := h.IsComplete()
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if !done {
		t.Error("empty plan should complete immediately")
	}
	if len(planEvents) != 1 || planEvents[0].HandleID != h.ID {
		t.Errorf("plan.completed events = %+v", planEvents)
	}

	// Registering on a completed execution fires right away.
	fired := 0
	if _, err := h.OnPlanComplete(func(completed, failed int) { fired++ }); err != nil {
		t.Fatalf("OnPlanComplete: %v", err)
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
}

func TestWaveAdvancement(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	var waveEvents []event.WaveCompletedEvent
	bus.Subscribe("wave.completed", func(e event.Event) {
		waveEvents = append(waveEvents, event.Unwrap(e).(event.WaveCompletedEvent))
	})

	h, err := s.SubmitPlan(twoWavePlan())
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	complete(bus, "task-a")
	if len(waveEvents) != 0 {
		t.Fatalf("wave closed with task-b outstanding: %+v", waveEvents)
	}

	complete(bus, "task-b")
	if len(waveEvents) != 1 {
		t.Fatalf("wave.completed events = %d, want 1", len(waveEvents))
	}
	if we := waveEvents[0]; we.WaveID != 0 || we.Completed != 2 || we.Failed != 0 {
		t.Errorf("wave event = %+v", we)
	}

	st, _ := h.Status()
	if st.CurrentWave != 1 || st.CompletedTasks != 2 || st.PendingTasks != 1 {
		t.Errorf("Status after wave 0 = %+v", st)
	}

	complete(bus, "task-c")
	done, _ := h.IsComplete()
	if !done {
		t.Error("plan should complete after the last task")
	}
	if len(waveEvents) != 2 {
		t.Errorf("wave.completed events = %d, want 2", len(waveEvents))
	}
}

func TestFailedTasksAdvanceWaves(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	h, err := s.SubmitPlan(twoWavePlan())
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	fail(bus, "task-a")
	complete(bus, "task-b")

	st, _ := h.Status()
	if st.CurrentWave != 1 {
		t.Errorf("CurrentWave = %d, want 1 despite the failure", st.CurrentWave)
	}
	if st.FailedTasks != 1 || st.CompletedTasks != 1 {
		t.Errorf("Status = %+v", st)
	}

	fail(bus, "task-c")
	done, _ := h.IsComplete()
	if !done {
		t.Error("plan should complete with failures accounted for")
	}
	st, _ = h.Status()
	if st.FailedTasks != 2 || st.PendingTasks != 0 {
		t.Errorf("final Status = %+v", st)
	}
}

func TestLaterWaveOutcomeBeforeCurrentWaveCloses(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	h, err := s.SubmitPlan(twoWavePlan())
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	var waves []int
	if _, err := h.OnWaveComplete(func(waveID, completed, failed int) {
		waves = append(waves, waveID)
	}); err != nil {
		t.Fatalf("OnWaveComplete: %v", err)
	}

	// task-a's permanent failure cascades to task-c while task-b is
	// still running, so the wave 1 outcome arrives ahead of wave 0
	// closing. It must land in its owning wave, not be dropped.
	fail(bus, "task-a")
	fail(bus, "task-c")

	st, _ := h.Status()
	if st.CurrentWave != 0 || st.FailedTasks != 2 || st.PendingTasks != 1 {
		t.Errorf("Status mid-plan = %+v", st)
	}

	complete(bus, "task-b")

	done, _ := h.IsComplete()
	if !done {
		t.Fatal("plan should complete once wave 0 closes")
	}
	st, _ = h.Status()
	if st.CompletedTasks != 1 || st.FailedTasks != 2 || st.PendingTasks != 0 {
		t.Errorf("final Status = %+v", st)
	}
	if len(waves) != 2 || waves[0] != 0 || waves[1] != 1 {
		t.Errorf("wave boundaries = %v, want [0 1]", waves)
	}
}

func TestDuplicateTaskEventsCountOnce(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	h, _ := s.SubmitPlan(twoWavePlan())

	complete(bus, "task-a")
	complete(bus, "task-a")

	st, _ := h.Status()
	if st.CompletedTasks != 1 || st.CurrentWave != 0 {
		t.Errorf("Status after duplicate events = %+v", st)
	}
}

func TestWaveCallbacksFireOncePerBoundary(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	h, _ := s.SubmitPlan(twoWavePlan())

	var boundaries [][3]int
	unsubscribe, err := h.OnWaveComplete(func(waveID, completed, failed int) {
		boundaries = append(boundaries, [3]int{waveID, completed, failed})
	})
	if err != nil {
		t.Fatalf("OnWaveComplete: %v", err)
	}

	complete(bus, "task-a")
	fail(bus, "task-b")
	if len(boundaries) != 1 || boundaries[0] != [3]int{0, 1, 1} {
		t.Fatalf("boundaries = %v", boundaries)
	}

	// After unsubscribe the second boundary is silent.
	unsubscribe()
	complete(bus, "task-c")
	if len(boundaries) != 1 {
		t.Errorf("boundaries after unsubscribe = %v", boundaries)
	}
}

func TestPlanCallbackFiresOnce(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	h, _ := s.SubmitPlan(twoWavePlan())

	fired := 0
	var gotCompleted, gotFailed int
	if _, err := h.OnPlanComplete(func(completed, failed int) {
		fired++
		gotCompleted, gotFailed = completed, failed
	}); err != nil {
		t.Fatalf("OnPlanComplete: %v", err)
	}

	complete(bus, "task-a")
	complete(bus, "task-b")
	fail(bus, "task-c")

	if fired != 1 {
		t.Fatalf("plan callback fired %d times, want 1", fired)
	}
	if gotCompleted != 2 || gotFailed != 1 {
		t.Errorf("callback counts = (%d, %d), want (2, 1)", gotCompleted, gotFailed)
	}
}

func TestAbortSilencesExecution(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	h, _ := s.SubmitPlan(twoWavePlan())

	waveFired := false
	_, _ = h.OnWaveComplete(func(waveID, completed, failed int) { waveFired = true })
	planFired := false
	_, _ = h.OnPlanComplete(func(completed, failed int) { planFired = true })

	if err := h.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	complete(bus, "task-a")
	complete(bus, "task-b")
	complete(bus, "task-c")

	st, _ := h.Status()
	if st.State != StateAborted {
		t.Errorf("State = %s, want aborted", st.State)
	}
	if st.CompletedTasks != 0 {
		t.Errorf("aborted execution counted tasks: %+v", st)
	}
	if waveFired || planFired {
		t.Error("callbacks fired after abort")
	}

	done, _ := h.IsComplete()
	if done {
		t.Error("aborted execution should not report complete")
	}

	// Abort is idempotent.
	if err := h.Abort(); err != nil {
		t.Errorf("second Abort = %v", err)
	}
}

func TestConcurrentPlansAreIsolated(t *testing.T) {
	bus := event.NewBus()
	s := New(bus)
	defer s.Close()

	h1, err := s.SubmitPlan(&plan.Plan{Waves: []plan.Wave{
		{ID: 0, Tasks: []plan.Task{{ID: "alpha-1", WaveID: 0}}},
	}})
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}
	h2, err := s.SubmitPlan(&plan.Plan{Waves: []plan.Wave{
		{ID: 0, Tasks: []plan.Task{{ID: "beta-1", WaveID: 0}}},
	}})
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	complete(bus, "alpha-1")

	done1, _ := s.IsComplete(h1.ID)
	done2, _ := s.IsComplete(h2.ID)
	if !done1 {
		t.Error("plan 1 should be complete")
	}
	if done2 {
		t.Error("plan 2 should be untouched by plan 1's events")
	}
}

func TestSubmitRejectsTaskIDCollision(t *testing.T) {
	s := New(event.NewBus())
	defer s.Close()

	single := func() *plan.Plan {
		return &plan.Plan{Waves: []plan.Wave{
			{ID: 0, Tasks: []plan.Task{{ID: "shared", WaveID: 0}}},
		}}
	}

	if _, err := s.SubmitPlan(single()); err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}
	if _, err := s.SubmitPlan(single()); !errors.Is(err, errors.ErrPlanInvalid) {
		t.Errorf("colliding SubmitPlan = %v, want ErrPlanInvalid", err)
	}
}

func TestUnknownHandle(t *testing.T) {
	s := New(event.NewBus())
	defer s.Close()

	if _, err := s.ExecutionStatus("missing"); !errors.Is(err, errors.ErrHandleNotFound) {
		t.Errorf("ExecutionStatus = %v, want ErrHandleNotFound", err)
	}
	if err := s.Abort("missing"); !errors.Is(err, errors.ErrHandleNotFound) {
		t.Errorf("Abort = %v, want ErrHandleNotFound", err)
	}
	if _, err := s.OnWaveComplete("missing", func(int, int, int) {}); !errors.Is(err, errors.ErrHandleNotFound) {
		t.Errorf("OnWaveComplete = %v, want ErrHandleNotFound", err)
	}
}
