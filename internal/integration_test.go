// Package internal contains integration tests that verify the packages
// work together: event routing between components, real git worktrees
// behind the manager and bridge, and a full plan driven through the
// queue and scheduler.
package internal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maestro-cli/maestro/internal/bridge"
	"github.com/maestro-cli/maestro/internal/event"
	"github.com/maestro-cli/maestro/internal/plan"
	"github.com/maestro-cli/maestro/internal/procrun"
	"github.com/maestro-cli/maestro/internal/scheduler"
	"github.com/maestro-cli/maestro/internal/taskqueue"
	"github.com/maestro-cli/maestro/internal/testutil"
	"github.com/maestro-cli/maestro/internal/worktree"
)

// TestEventBusIntegration verifies the bus routes events between
// components the way the run command wires them.
func TestEventBusIntegration(t *testing.T) {
	bus := event.NewBus()

	var receivedEvents []event.Event
	var mu sync.Mutex
	record := func(e event.Event) {
		mu.Lock()
		receivedEvents = append(receivedEvents, e)
		mu.Unlock()
	}

	bus.Subscribe("worktree.created", record)
	bus.Subscribe("task.claimed", record)
	bus.Subscribe("qa.iteration.started", record)
	bus.Subscribe("task.completed", record)
	bus.Subscribe("plan.completed", record)

	bus.Publish(event.NewWorktreeCreatedEvent("task-1", "/tmp/wt", "maestro/task/task-1/1"))
	bus.Publish(event.NewTaskClaimedEvent("task-1", "agent-1"))
	bus.Publish(event.NewQAIterationStartedEvent("task-1", 1, 3))
	bus.Publish(event.NewTaskCompletedEvent("task-1", "agent-1", "verification passed"))
	bus.Publish(event.NewPlanCompletedEvent("handle-1", 1, 0))

	mu.Lock()
	defer mu.Unlock()

	expectedTypes := []string{
		"worktree.created",
		"task.claimed",
		"qa.iteration.started",
		"task.completed",
		"plan.completed",
	}
	if len(receivedEvents) != len(expectedTypes) {
		t.Fatalf("received %d events, want %d", len(receivedEvents), len(expectedTypes))
	}
	for i, expected := range expectedTypes {
		if receivedEvents[i].EventType() != expected {
			t.Errorf("event %d: type = %q, want %q", i, receivedEvents[i].EventType(), expected)
		}
	}
}

// TestWorktreeLifecycleIntegration drives the manager and bridge against
// a real git repository: create through the bridge, verify on disk,
// release, remove, verify gone.
func TestWorktreeLifecycleIntegration(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	ctx := context.Background()

	runner := procrun.NewRunner()
	git, err := worktree.NewCLIGit(ctx, repoDir, runner)
	if err != nil {
		t.Fatalf("NewCLIGit: %v", err)
	}

	root := t.TempDir()
	manager := worktree.NewManager(root, git)
	agents := bridge.New(manager)

	info, err := agents.AssignWorktree(ctx, "agent-1", "task-1", "main")
	if err != nil {
		t.Fatalf("AssignWorktree: %v", err)
	}

	// The worktree must exist both in git and in the registry.
	found := false
	for _, path := range testutil.ListWorktrees(t, repoDir) {
		if path == info.Path {
			found = true
		}
	}
	if !found {
		t.Errorf("git does not list worktree at %s", info.Path)
	}
	if testutil.GetCurrentBranch(t, info.Path) != info.Branch {
		t.Errorf("worktree branch = %q, want %q",
			testutil.GetCurrentBranch(t, info.Path), info.Branch)
	}
	if got, err := manager.GetWorktree("task-1"); err != nil || got == nil {
		t.Fatalf("GetWorktree = %v, %v", got, err)
	}

	// ChangedFiles reflects the work done in the worktree relative to
	// its base branch, committed and untracked alike.
	testutil.CommitFile(t, info.Path, "src/feature.ts", "export const f = 1;\n", "Add feature")
	if err := os.WriteFile(filepath.Join(info.Path, "notes.txt"), []byte("wip\n"), 0644); err != nil {
		t.Fatal(err)
	}
	files, err := git.ChangedFiles(ctx, info.Path, info.BaseBranch)
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	want := map[string]bool{"src/feature.ts": true, "notes.txt": true}
	if len(files) != 2 {
		t.Fatalf("ChangedFiles = %v, want 2 entries", files)
	}
	for _, f := range files {
		if !want[f] {
			t.Errorf("unexpected changed file %q", f)
		}
	}

	if err := agents.ReleaseWorktree(ctx, "agent-1"); err != nil {
		t.Fatalf("ReleaseWorktree: %v", err)
	}
	// Default release retains the worktree for inspection.
	if got, _ := manager.GetWorktree("task-1"); got == nil {
		t.Fatal("worktree should survive release")
	}

	if err := manager.RemoveWorktree(ctx, "task-1", worktree.RemoveOptions{}); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if got, _ := manager.GetWorktree("task-1"); got != nil {
		t.Errorf("worktree still registered after removal: %+v", got)
	}
	for _, path := range testutil.ListWorktrees(t, repoDir) {
		if path == info.Path {
			t.Errorf("git still lists removed worktree at %s", path)
		}
	}
}

// TestPlanExecutionIntegration pushes a two-wave plan through the queue
// and scheduler over a shared bus, the same wiring the run command uses.
func TestPlanExecutionIntegration(t *testing.T) {
	bus := event.NewBus()

	p := &plan.Plan{
		Waves: []plan.Wave{
			{ID: 0, Tasks: []plan.Task{
				{ID: "task-a", Name: "A", Description: "first", WaveID: 0},
				{ID: "task-b", Name: "B", Description: "second", WaveID: 0},
			}},
			{ID: 1, Tasks: []plan.Task{
				{ID: "task-c", Name: "C", Description: "third", WaveID: 1, DependsOn: []string{"task-a"}},
			}},
		},
	}
	if err := plan.Validate(p); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	queue := taskqueue.NewEventQueue(taskqueue.NewFromPlan(p), bus)

	sched := scheduler.New(bus)
	defer sched.Close()

	handle, err := sched.SubmitPlan(p)
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	var waves []int
	if _, err := handle.OnWaveComplete(func(waveID, completed, failed int) {
		waves = append(waves, waveID)
	}); err != nil {
		t.Fatalf("OnWaveComplete: %v", err)
	}
	planDone := false
	if _, err := handle.OnPlanComplete(func(completed, failed int) {
		planDone = true
		if completed != 3 || failed != 0 {
			t.Errorf("plan callback: completed = %d, failed = %d", completed, failed)
		}
	}); err != nil {
		t.Fatalf("OnPlanComplete: %v", err)
	}

	// Drain the queue the way an agent loop does. Completing tasks
	// publishes task.completed, which the scheduler consumes.
	for i := 0; i < p.TotalTasks(); i++ {
		task, err := queue.ClaimNext("agent-1")
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if task == nil {
			t.Fatalf("claim %d: nothing claimable", i)
		}
		if err := queue.MarkRunning(task.ID); err != nil {
			t.Fatalf("MarkRunning(%s): %v", task.ID, err)
		}
		if _, err := queue.Complete(task.ID, "agent-1", "done"); err != nil {
			t.Fatalf("Complete(%s): %v", task.ID, err)
		}
	}

	if !queue.IsComplete() {
		t.Error("queue should be complete")
	}
	done, err := handle.IsComplete()
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if !done {
		t.Error("scheduler should report the plan complete")
	}
	if !planDone {
		t.Error("plan callback never fired")
	}
	if len(waves) != 2 || waves[0] != 0 || waves[1] != 1 {
		t.Errorf("wave callbacks = %v, want [0 1]", waves)
	}

	status, err := handle.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.CompletedTasks != 3 || status.FailedTasks != 0 {
		t.Errorf("status = %+v", status)
	}
}

// TestFailurePropagationIntegration verifies a permanent failure fails
// its dependents and the scheduler still closes the plan, even when the
// cascaded failure lands while the failing task's wave is still open.
func TestFailurePropagationIntegration(t *testing.T) {
	bus := event.NewBus()

	p := &plan.Plan{
		Waves: []plan.Wave{
			{ID: 0, Tasks: []plan.Task{
				{ID: "task-a", Name: "A", Description: "first", WaveID: 0},
				{ID: "task-b", Name: "B", Description: "second", WaveID: 0},
			}},
			{ID: 1, Tasks: []plan.Task{
				{ID: "task-c", Name: "C", Description: "third", WaveID: 1, DependsOn: []string{"task-a"}},
			}},
		},
	}

	q := taskqueue.NewFromPlan(p)
	if err := q.SetMaxRetries("task-a", 0); err != nil {
		t.Fatalf("SetMaxRetries: %v", err)
	}
	queue := taskqueue.NewEventQueue(q, bus)

	sched := scheduler.New(bus)
	defer sched.Close()

	handle, err := sched.SubmitPlan(p)
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	// Two agents claim both wave 0 tasks before anything fails.
	first, err := queue.ClaimNext("agent-1")
	if err != nil || first == nil {
		t.Fatalf("ClaimNext = %v, %v", first, err)
	}
	second, err := queue.ClaimNext("agent-2")
	if err != nil || second == nil {
		t.Fatalf("ClaimNext = %v, %v", second, err)
	}
	remaining, remainingAgent := second, "agent-2"
	if first.ID != "task-a" {
		remaining, remainingAgent = first, "agent-1"
	}

	// task-a fails permanently; the cascade fails task-c while task-b
	// is still running.
	if err := queue.Fail("task-a", "build broken", 3, true); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if err := queue.MarkRunning(remaining.ID); err != nil {
		t.Fatalf("MarkRunning(%s): %v", remaining.ID, err)
	}
	if _, err := queue.Complete(remaining.ID, remainingAgent, "done"); err != nil {
		t.Fatalf("Complete(%s): %v", remaining.ID, err)
	}

	if !queue.IsComplete() {
		t.Error("queue should be complete after the cascade")
	}
	done, err := handle.IsComplete()
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if !done {
		t.Error("scheduler should report the plan complete")
	}
	status, err := handle.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.FailedTasks != 2 || status.CompletedTasks != 1 || status.PendingTasks != 0 {
		t.Errorf("status = %+v, want 2 failed and 1 completed", status)
	}
}
