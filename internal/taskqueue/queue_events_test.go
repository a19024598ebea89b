package taskqueue

import (
	"testing"
	"time"

	"github.com/maestro-cli/maestro/internal/event"
)

// recorder collects events of one type published during a test.
type recorder struct {
	events []event.Event
}

func record(bus *event.Bus, eventType string) *recorder {
	r := &recorder{}
	bus.Subscribe(eventType, func(e event.Event) {
		r.events = append(r.events, event.Unwrap(e))
	})
	return r
}

func TestEventQueueClaimPublishes(t *testing.T) {
	bus := event.NewBus()
	eq := NewEventQueue(NewFromPlan(makePlan()), bus)

	claimed := record(bus, "task.claimed")
	depth := record(bus, "queue.depth_changed")

	task, err := eq.ClaimNext("agent-1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if len(claimed.events) != 1 {
		t.Fatalf("claimed events = %d, want 1", len(claimed.events))
	}
	ce := claimed.events[0].(event.TaskClaimedEvent)
	if ce.TaskID != task.ID || ce.AgentID != "agent-1" {
		t.Errorf("claimed event = %+v", ce)
	}
	if len(depth.events) != 1 {
		t.Errorf("depth events = %d, want 1", len(depth.events))
	}
	de := depth.events[0].(event.QueueDepthChangedEvent)
	if de.Claimed != 1 || de.Pending != 2 || de.Total != 3 {
		t.Errorf("depth event = %+v", de)
	}
}

func TestEventQueueClaimMissPublishesNothing(t *testing.T) {
	bus := event.NewBus()
	q := NewFromPlan(makePlan())
	eq := NewEventQueue(q, bus)

	// Drain wave 0 claims so the next claim finds nothing.
	_, _ = eq.ClaimNext("agent-1")
	_, _ = eq.ClaimNext("agent-2")

	claimed := record(bus, "task.claimed")
	task, err := eq.ClaimNext("agent-3")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if task != nil {
		t.Fatalf("claim = %+v, want nil", task)
	}
	if len(claimed.events) != 0 {
		t.Errorf("claimed events = %d, want 0 on a miss", len(claimed.events))
	}
}

func TestEventQueueCompletePublishes(t *testing.T) {
	bus := event.NewBus()
	eq := NewEventQueue(NewFromPlan(makePlan()), bus)

	task, _ := eq.ClaimNext("agent-1")
	completed := record(bus, "task.completed")

	if _, err := eq.Complete(task.ID, "agent-1", "qa passed"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(completed.events) != 1 {
		t.Fatalf("completed events = %d, want 1", len(completed.events))
	}
	ce := completed.events[0].(event.TaskCompletedEvent)
	if ce.TaskID != task.ID || ce.AgentID != "agent-1" || ce.Message != "qa passed" {
		t.Errorf("completed event = %+v", ce)
	}
}

func TestEventQueueFailPublishesOnlyWhenPermanent(t *testing.T) {
	bus := event.NewBus()
	q := NewFromPlan(makePlan())
	eq := NewEventQueue(q, bus)

	task, _ := eq.ClaimNext("agent-1")
	_ = q.SetMaxRetries(task.ID, 1)

	failed := record(bus, "task.failed")

	// Retryable failure: no task.failed event.
	if err := eq.Fail(task.ID, "flaky", 1, false); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if len(failed.events) != 0 {
		t.Fatalf("failed events after retryable failure = %d, want 0", len(failed.events))
	}

	// Permanent failure publishes with the QA context attached.
	if _, err := eq.ClaimNext("agent-1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := eq.Fail(task.ID, "exhausted", 3, true); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if len(failed.events) != 1 {
		t.Fatalf("failed events = %d, want 1", len(failed.events))
	}
	fe := failed.events[0].(event.TaskFailedEvent)
	if fe.TaskID != task.ID || fe.Iterations != 3 || !fe.Escalated {
		t.Errorf("failed event = %+v", fe)
	}
}

func TestEventQueueCascadePublishesDependentFailures(t *testing.T) {
	bus := event.NewBus()
	q := NewFromPlan(makePlan())
	eq := NewEventQueue(q, bus)

	task, _ := eq.ClaimNext("agent-1") // task-1, which task-2 depends on
	_ = q.SetMaxRetries(task.ID, 0)

	failed := record(bus, "task.failed")
	if err := eq.Fail(task.ID, "fatal", 3, true); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if len(failed.events) != 2 {
		t.Fatalf("failed events = %d, want the task and its dependent", len(failed.events))
	}
	fe := failed.events[1].(event.TaskFailedEvent)
	if fe.TaskID != "task-2" || fe.Escalated {
		t.Errorf("cascade event = %+v", fe)
	}
}

func TestEventQueueReleasePublishes(t *testing.T) {
	bus := event.NewBus()
	eq := NewEventQueue(NewFromPlan(makePlan()), bus)

	task, _ := eq.ClaimNext("agent-1")
	released := record(bus, "task.released")

	if err := eq.Release(task.ID, "agent_shutdown"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(released.events) != 1 {
		t.Fatalf("released events = %d, want 1", len(released.events))
	}
	re := released.events[0].(event.TaskReleasedEvent)
	if re.TaskID != task.ID || re.Reason != "agent_shutdown" {
		t.Errorf("released event = %+v", re)
	}
}

func TestEventQueueReleaseStaleBefore(t *testing.T) {
	bus := event.NewBus()
	eq := NewEventQueue(NewFromPlan(makePlan()), bus)

	task, _ := eq.ClaimNext("agent-1")
	released := record(bus, "task.released")

	ids := eq.ReleaseStaleBefore(time.Now().Add(time.Minute))
	if len(ids) != 1 || ids[0] != task.ID {
		t.Fatalf("released = %v, want [%s]", ids, task.ID)
	}
	if len(released.events) != 1 {
		t.Fatalf("released events = %d, want 1", len(released.events))
	}
	if re := released.events[0].(event.TaskReleasedEvent); re.Reason != "stale_claim" {
		t.Errorf("release reason = %q, want stale_claim", re.Reason)
	}

	// Nothing stale on a second pass; no extra events.
	if ids := eq.ReleaseStaleBefore(time.Now().Add(time.Minute)); len(ids) != 0 {
		t.Errorf("second pass released %v, want none", ids)
	}
	if len(released.events) != 1 {
		t.Errorf("released events = %d after empty pass, want 1", len(released.events))
	}
}
