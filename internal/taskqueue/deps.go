package taskqueue

// isClaimable returns true if the task can be claimed: it must be
// pending, all of its dependencies must be completed, and every task in
// earlier waves must have reached a terminal state. A failed task in an
// earlier wave does not block the wave boundary; only an unfinished one
// does.
func (q *Queue) isClaimable(task *QueuedTask) bool {
	if task.Status != TaskPending {
		return false
	}
	for _, depID := range task.DependsOn {
		dep, ok := q.tasks[depID]
		if !ok || dep.Status != TaskCompleted {
			return false
		}
	}
	for _, other := range q.tasks {
		if other.WaveID < task.WaveID && !other.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// unblockedBy returns the IDs of tasks that become claimable after the
// given task completes. A task is newly claimable if it is still pending,
// the completed task gated it (as a direct dependency or as the last
// unfinished member of an earlier wave), and it now passes isClaimable.
func (q *Queue) unblockedBy(taskID string) []string {
	done, ok := q.tasks[taskID]
	if !ok {
		return nil
	}

	var unblocked []string
	for _, id := range q.order {
		task := q.tasks[id]
		if task.Status != TaskPending || !q.isClaimable(task) {
			continue
		}
		gated := done.WaveID < task.WaveID
		for _, depID := range task.DependsOn {
			if depID == taskID {
				gated = true
			}
		}
		if gated {
			unblocked = append(unblocked, id)
		}
	}
	return unblocked
}

// failUnreachable marks every pending task whose dependency chain
// contains a permanently failed task as failed, transitively. Returns
// the IDs of the tasks failed this way, in claim order.
func (q *Queue) failUnreachable() []string {
	var failed []string
	for changed := true; changed; {
		changed = false
		for _, id := range q.order {
			task := q.tasks[id]
			if task.Status != TaskPending {
				continue
			}
			for _, depID := range task.DependsOn {
				dep, ok := q.tasks[depID]
				if !ok || dep.Status != TaskFailed {
					continue
				}
				task.Status = TaskFailed
				task.FailureContext = "dependency failed: " + depID
				failed = append(failed, id)
				changed = true
				break
			}
		}
	}
	return failed
}
