// Package bridge binds agent identities to task worktrees. It is a thin
// association layer over the worktree manager: one agent holds at most
// one worktree at a time, and an assignment only exists once worktree
// creation fully succeeded.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/logging"
	"github.com/maestro-cli/maestro/internal/worktree"
)

// WorktreeOperations is the subset of the worktree manager the bridge
// delegates to. Tests substitute a fake.
type WorktreeOperations interface {
	CreateWorktree(ctx context.Context, taskID, baseBranch string) (*worktree.Info, error)
	RemoveWorktree(ctx context.Context, taskID string, opts worktree.RemoveOptions) error
}

// Bridge maintains the in-memory agent-to-worktree association. The
// association is not persisted; it can be rebuilt from the worktree
// manager's registry after a restart.
type Bridge struct {
	manager          WorktreeOperations
	logger           *logging.Logger
	cleanupOnRelease bool

	mu          sync.RWMutex
	byAgent     map[string]*worktree.Info // agentID -> worktree
	agentByTask map[string]string         // taskID -> agentID
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithCleanupOnRelease makes ReleaseWorktree also delete the underlying
// worktree. By default the worktree is retained.
func WithCleanupOnRelease() Option {
	return func(b *Bridge) { b.cleanupOnRelease = true }
}

// WithLogger sets the logger for the bridge.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New creates a Bridge over the given worktree manager.
func New(manager WorktreeOperations, opts ...Option) *Bridge {
	if manager == nil {
		panic("bridge: worktree manager must not be nil")
	}
	b := &Bridge{
		manager:     manager,
		logger:      logging.NopLogger(),
		byAgent:     make(map[string]*worktree.Info),
		agentByTask: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AssignWorktree creates a worktree for the task and binds it to the
// agent. An agent with an existing assignment fails with
// ErrAgentAssigned. If creation fails no association is recorded: the
// agent is never observed as assigned unless the worktree fully exists.
func (b *Bridge) AssignWorktree(ctx context.Context, agentID, taskID, baseBranch string) (*worktree.Info, error) {
	b.mu.Lock()
	if existing, ok := b.byAgent[agentID]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: agent %s holds task %s",
			errors.ErrAgentAssigned, agentID, existing.TaskID)
	}
	b.mu.Unlock()

	// Creation runs outside the bridge lock: it shells out to git and
	// may take a while. The worktree manager itself rejects duplicate
	// task IDs, so two agents racing for one task cannot both succeed.
	info, err := b.manager.CreateWorktree(ctx, taskID, baseBranch)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byAgent[agentID]; ok {
		// The agent picked up another assignment while we were creating.
		// Roll the fresh worktree back rather than leaving the agent
		// double-booked.
		_ = b.manager.RemoveWorktree(ctx, taskID, worktree.RemoveOptions{})
		return nil, fmt.Errorf("%w: agent %s", errors.ErrAgentAssigned, agentID)
	}
	b.byAgent[agentID] = info
	b.agentByTask[taskID] = agentID

	b.logger.Info("worktree assigned",
		"agent_id", agentID,
		"task_id", taskID,
		"path", info.Path,
	)
	return info, nil
}

// ReleaseWorktree drops the agent's assignment. Unknown agents are a
// no-op. When the bridge was built with WithCleanupOnRelease, the
// underlying worktree is removed as well.
func (b *Bridge) ReleaseWorktree(ctx context.Context, agentID string) error {
	b.mu.Lock()
	info, ok := b.byAgent[agentID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.byAgent, agentID)
	delete(b.agentByTask, info.TaskID)
	b.mu.Unlock()

	b.logger.Info("worktree released", "agent_id", agentID, "task_id", info.TaskID)

	if b.cleanupOnRelease {
		if err := b.manager.RemoveWorktree(ctx, info.TaskID, worktree.RemoveOptions{}); err != nil {
			return fmt.Errorf("cleanup on release for task %s: %w", info.TaskID, err)
		}
	}
	return nil
}

// GetWorktree returns the worktree assigned to the agent, or nil.
func (b *Bridge) GetWorktree(agentID string) *worktree.Info {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info, ok := b.byAgent[agentID]
	if !ok {
		return nil
	}
	copied := *info
	return &copied
}

// AgentForTask returns the agent holding the task's worktree.
func (b *Bridge) AgentForTask(taskID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	agentID, ok := b.agentByTask[taskID]
	return agentID, ok
}

// HasWorktree reports whether the agent currently holds a worktree.
func (b *Bridge) HasWorktree(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.byAgent[agentID]
	return ok
}

// AllAssignments returns a snapshot of every agent's worktree.
func (b *Bridge) AllAssignments() map[string]*worktree.Info {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]*worktree.Info, len(b.byAgent))
	for agentID, info := range b.byAgent {
		copied := *info
		out[agentID] = &copied
	}
	return out
}
