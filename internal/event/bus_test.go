package event

import (
	"sync"
	"testing"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe("task.completed", func(e Event) {
		evt := e.(TaskCompletedEvent)
		got = append(got, evt.TaskID)
	})

	bus.Publish(NewTaskCompletedEvent("task-1", "agent-1", "done"))
	bus.Publish(NewTaskCompletedEvent("task-2", "agent-1", "done"))

	if len(got) != 2 || got[0] != "task-1" || got[1] != "task-2" {
		t.Errorf("got %v, want [task-1 task-2]", got)
	}
}

func TestPublishIgnoresOtherEventTypes(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("task.failed", func(Event) { calls++ })

	bus.Publish(NewTaskCompletedEvent("task-1", "", ""))

	if calls != 0 {
		t.Errorf("handler for task.failed called %d times for task.completed", calls)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	var types []string
	bus.SubscribeAll(func(e Event) { types = append(types, e.EventType()) })

	bus.Publish(NewTaskCompletedEvent("t", "", ""))
	bus.Publish(NewQAEscalationEvent("t", 3, []string{"build failed"}))
	bus.Publish(NewWaveCompletedEvent("h", 0, 2, 0))

	want := []string{"task.completed", "qa.escalation", "wave.completed"}
	if len(types) != len(want) {
		t.Fatalf("got %d events, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	calls := 0
	id := bus.Subscribe("task.completed", func(Event) { calls++ })

	bus.Publish(NewTaskCompletedEvent("t1", "", ""))

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	bus.Publish(NewTaskCompletedEvent("t2", "", ""))

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should return false")
	}
}

func TestSubscriptionIDsNeverRecycle(t *testing.T) {
	bus := NewBus()

	seen := make(map[string]struct{})
	for i := 0; i < 10000; i++ {
		id := bus.Subscribe("task.completed", func(Event) {})
		if _, dup := seen[id]; dup {
			t.Fatalf("subscription ID %q issued twice after %d subscribes", id, i+1)
		}
		seen[id] = struct{}{}
	}

	// Unsubscribing by ID must remove that handler, not an earlier one
	// that happened to share a recycled ID.
	bus.Clear()
	calls := 0
	first := bus.Subscribe("task.completed", func(Event) { calls++ })
	second := bus.Subscribe("task.completed", func(Event) {})
	if !bus.Unsubscribe(second) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	bus.Publish(NewTaskCompletedEvent("t", "", ""))
	if calls != 1 {
		t.Errorf("surviving handler called %d times, want 1", calls)
	}
	if !bus.Unsubscribe(first) {
		t.Error("first subscription should still be removable")
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("task.completed", func(Event) { panic("boom") })

	delivered := false
	bus.Subscribe("task.completed", func(Event) { delivered = true })

	bus.Publish(NewTaskCompletedEvent("t", "", ""))

	if !delivered {
		t.Error("second handler not called after first panicked")
	}
}

func TestPublishFromAttributesSource(t *testing.T) {
	bus := NewBus()

	var source string
	bus.Subscribe("task.failed", func(e Event) { source = e.Source() })

	bus.PublishFrom("scheduler", NewTaskFailedEvent("t", "escalated", 3, true))

	if source != "scheduler" {
		t.Errorf("Source() = %q, want %q", source, "scheduler")
	}
}

func TestUnwrapRecoversConcreteType(t *testing.T) {
	bus := NewBus()

	var taskID string
	bus.Subscribe("task.failed", func(e Event) {
		taskID = Unwrap(e).(TaskFailedEvent).TaskID
	})

	bus.PublishFrom("scheduler", NewTaskFailedEvent("t-9", "escalated", 3, true))

	if taskID != "t-9" {
		t.Errorf("TaskID = %q, want %q", taskID, "t-9")
	}
}

func TestClearRemovesAllSubscriptions(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("task.completed", func(Event) {})
	bus.SubscribeAll(func(Event) {})

	if bus.SubscriptionCount() != 2 {
		t.Fatalf("SubscriptionCount = %d, want 2", bus.SubscriptionCount())
	}

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount after Clear = %d, want 0", bus.SubscriptionCount())
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe("task.completed", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewTaskCompletedEvent("t", "", ""))
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 1000 {
		t.Errorf("delivered %d events, want 1000", count)
	}
}
