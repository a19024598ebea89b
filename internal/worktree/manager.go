// Package worktree manages isolated git working copies, one per task.
// Each worktree gets a dedicated branch and a registry entry in a JSON
// document under the worktree root. Registry mutations follow a
// load-mutate-save cycle serialized by an in-process mutex and a
// cross-process flock(2) lock.
package worktree

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/event"
	"github.com/maestro-cli/maestro/internal/filelock"
	"github.com/maestro-cli/maestro/internal/logging"
)

// Default thresholds for status derivation. A worktree is active while
// recently touched, idle once quiet, and stale past the stale threshold.
const (
	DefaultActiveThreshold = 15 * time.Minute
	DefaultStaleThreshold  = time.Hour
)

// DefaultBranchPrefix namespaces branches created by the manager.
const DefaultBranchPrefix = "maestro"

// Manager creates, tracks, and reclaims per-task worktrees.
type Manager struct {
	root            string
	git             GitOperations
	bus             *event.Bus
	logger          *logging.Logger
	branchPrefix    string
	activeThreshold time.Duration
	staleThreshold  time.Duration

	// mu serializes registry load-mutate-save cycles in-process;
	// the flock in LoadRegistry/SaveRegistry covers other processes.
	mu sync.Mutex

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus sets the event bus worktree lifecycle events are published to.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithLogger sets the logger for the manager.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithBranchPrefix overrides the namespace prefix for created branches.
func WithBranchPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.branchPrefix = prefix
		}
	}
}

// WithThresholds overrides the active and stale status thresholds.
func WithThresholds(active, stale time.Duration) Option {
	return func(m *Manager) {
		if active > 0 {
			m.activeThreshold = active
		}
		if stale > 0 {
			m.staleThreshold = stale
		}
	}
}

// withClock overrides the time source. Test seam.
func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager that places worktrees and the registry
// under root, using git for repository operations.
func NewManager(root string, git GitOperations, opts ...Option) *Manager {
	m := &Manager{
		root:            root,
		git:             git,
		logger:          logging.NopLogger(),
		branchPrefix:    DefaultBranchPrefix,
		activeThreshold: DefaultActiveThreshold,
		staleThreshold:  DefaultStaleThreshold,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WorktreePath returns the working-copy path for a task. It is a pure
// function of the task ID: no I/O, same ID always yields the same path.
func (m *Manager) WorktreePath(taskID string) string {
	return joinWorktreePath(m.root, taskID)
}

// CreateWorktree creates a branch and working copy for the task and
// records it in the registry. A second creation for the same task ID
// fails with *errors.WorktreeExistsError; creations for distinct task
// IDs serialize on the registry but all succeed.
func (m *Manager) CreateWorktree(ctx context.Context, taskID, baseBranch string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.loadRegistryLocked()
	if err != nil {
		return nil, err
	}
	if _, exists := reg.Worktrees[taskID]; exists {
		return nil, &errors.WorktreeExistsError{TaskID: taskID}
	}

	if baseBranch == "" {
		baseBranch, err = m.git.DefaultBranch(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve base branch: %w", err)
		}
	}

	now := m.now()
	branch := fmt.Sprintf("%s/task/%s/%d", m.branchPrefix, taskID, now.UnixMilli())
	path := m.WorktreePath(taskID)

	if err := m.git.AddWorktree(ctx, path, branch, baseBranch); err != nil {
		return nil, fmt.Errorf("create worktree for task %s: %w", taskID, err)
	}

	info := &Info{
		TaskID:       taskID,
		Path:         path,
		Branch:       branch,
		BaseBranch:   baseBranch,
		CreatedAt:    now,
		LastActivity: now,
		Status:       StatusActive,
	}
	reg.Worktrees[taskID] = info

	if err := m.saveRegistryLocked(reg); err != nil {
		return nil, err
	}

	m.logger.Info("worktree created",
		"task_id", taskID,
		"path", path,
		"branch", branch,
		"base_branch", baseBranch,
	)
	m.publish(event.NewWorktreeCreatedEvent(taskID, path, branch))

	copied := *info
	return &copied, nil
}

// GetWorktree returns the registry entry for a task, or nil when the
// task has no worktree.
func (m *Manager) GetWorktree(taskID string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.loadRegistryLocked()
	if err != nil {
		return nil, err
	}
	info, ok := reg.Worktrees[taskID]
	if !ok {
		return nil, nil
	}
	copied := *info
	return &copied, nil
}

// ListWorktrees returns all registry entries sorted by task ID.
func (m *Manager) ListWorktrees() ([]*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.loadRegistryLocked()
	if err != nil {
		return nil, err
	}

	infos := make([]*Info, 0, len(reg.Worktrees))
	for _, info := range reg.Worktrees {
		copied := *info
		infos = append(infos, &copied)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TaskID < infos[j].TaskID })
	return infos, nil
}

// RemoveWorktree deletes a task's working copy and registry entry.
// The branch is retained unless opts.DeleteBranch is set.
func (m *Manager) RemoveWorktree(ctx context.Context, taskID string, opts RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.loadRegistryLocked()
	if err != nil {
		return err
	}
	info, ok := reg.Worktrees[taskID]
	if !ok {
		return &errors.WorktreeNotFoundError{TaskID: taskID}
	}

	if err := m.git.RemoveWorktree(ctx, info.Path, true); err != nil {
		return fmt.Errorf("remove worktree for task %s: %w", taskID, err)
	}
	if opts.DeleteBranch {
		if err := m.git.DeleteBranch(ctx, info.Branch); err != nil {
			m.logger.Warn("branch deletion failed",
				"task_id", taskID,
				"branch", info.Branch,
				"error", err.Error(),
			)
		}
	}

	delete(reg.Worktrees, taskID)
	if err := m.saveRegistryLocked(reg); err != nil {
		return err
	}

	m.logger.Info("worktree removed", "task_id", taskID, "path", info.Path)
	m.publish(event.NewWorktreeRemovedEvent(taskID, info.Path, "removed"))
	return nil
}

// Cleanup reclaims worktrees whose last activity is older than MaxAge.
// Entries within the age threshold are skipped. Removal failures are
// reported in the result, never returned as an error, so one bad entry
// does not block reclaiming the rest.
func (m *Manager) Cleanup(ctx context.Context, opts CleanupOptions) (*CleanupReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultCleanupMaxAge
	}

	reg, err := m.loadRegistryLocked()
	if err != nil {
		return nil, err
	}

	taskIDs := make([]string, 0, len(reg.Worktrees))
	for id := range reg.Worktrees {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)

	report := &CleanupReport{}
	now := m.now()
	mutated := false

	for _, taskID := range taskIDs {
		info := reg.Worktrees[taskID]
		if now.Sub(info.LastActivity) <= maxAge {
			report.Skipped = append(report.Skipped, taskID)
			continue
		}

		if opts.DryRun {
			report.Removed = append(report.Removed, taskID)
			continue
		}

		if !opts.Force {
			dirty, err := m.git.HasUncommittedChanges(ctx, info.Path)
			if err == nil && dirty {
				m.logger.Warn("stale worktree has uncommitted changes, skipping",
					"task_id", taskID,
					"path", info.Path,
				)
				report.Failed = append(report.Failed, taskID)
				continue
			}
		}

		if err := m.git.RemoveWorktree(ctx, info.Path, opts.Force); err != nil {
			m.logger.Warn("cleanup failed to remove worktree",
				"task_id", taskID,
				"path", info.Path,
				"error", err.Error(),
			)
			report.Failed = append(report.Failed, taskID)
			continue
		}

		delete(reg.Worktrees, taskID)
		mutated = true
		report.Removed = append(report.Removed, taskID)
		m.publish(event.NewWorktreeRemovedEvent(taskID, info.Path, "stale"))
	}

	if mutated {
		if err := m.saveRegistryLocked(reg); err != nil {
			return nil, err
		}
	}

	m.logger.Info("cleanup finished",
		"removed", len(report.Removed),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
		"dry_run", opts.DryRun,
	)
	return report, nil
}

// UpdateActivity bumps the task's last-activity timestamp and recomputes
// its status. Long-running agents call this to keep a worktree from
// going stale.
func (m *Manager) UpdateActivity(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.loadRegistryLocked()
	if err != nil {
		return err
	}
	info, ok := reg.Worktrees[taskID]
	if !ok {
		return &errors.WorktreeNotFoundError{TaskID: taskID}
	}

	info.LastActivity = m.now()
	info.Status = m.deriveStatus(info.LastActivity)
	return m.saveRegistryLocked(reg)
}

// RefreshStatus recomputes the task's status from its last activity
// without bumping the timestamp, persisting only when the status moved.
func (m *Manager) RefreshStatus(taskID string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, err := m.loadRegistryLocked()
	if err != nil {
		return nil, err
	}
	info, ok := reg.Worktrees[taskID]
	if !ok {
		return nil, &errors.WorktreeNotFoundError{TaskID: taskID}
	}

	derived := m.deriveStatus(info.LastActivity)
	if derived != info.Status {
		info.Status = derived
		if err := m.saveRegistryLocked(reg); err != nil {
			return nil, err
		}
	}

	copied := *info
	return &copied, nil
}

// LoadRegistry reads the registry document, creating a fresh one when
// none exists yet.
func (m *Manager) LoadRegistry() (*Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadRegistryLocked()
}

// SaveRegistry rewrites the whole registry document and refreshes its
// lastUpdated stamp.
func (m *Manager) SaveRegistry(reg *Registry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveRegistryLocked(reg)
}

func (m *Manager) loadRegistryLocked() (*Registry, error) {
	fl := filelock.New(filepath.Join(m.root, lockFileName))
	if err := fl.Acquire(); err != nil {
		return nil, fmt.Errorf("acquire registry lock: %w", err)
	}
	defer func() { _ = fl.Release() }()

	return readRegistry(m.root)
}

func (m *Manager) saveRegistryLocked(reg *Registry) error {
	fl := filelock.New(filepath.Join(m.root, lockFileName))
	if err := fl.Acquire(); err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	defer func() { _ = fl.Release() }()

	return writeRegistry(m.root, reg)
}

func (m *Manager) deriveStatus(lastActivity time.Time) Status {
	elapsed := m.now().Sub(lastActivity)
	switch {
	case elapsed < m.activeThreshold:
		return StatusActive
	case elapsed < m.staleThreshold:
		return StatusIdle
	default:
		return StatusStale
	}
}

func (m *Manager) publish(e event.Event) {
	if m.bus != nil {
		m.bus.PublishFrom("worktree", e)
	}
}
