package worktree

import "time"

// Status represents the liveness of a worktree, derived from the time
// elapsed since its last recorded activity.
type Status string

const (
	// StatusActive indicates recent activity on the worktree.
	StatusActive Status = "active"

	// StatusIdle indicates the worktree has been quiet for a while but
	// is not yet eligible for reclamation.
	StatusIdle Status = "idle"

	// StatusStale indicates the worktree has exceeded the stale
	// threshold and may be reclaimed by cleanup.
	StatusStale Status = "stale"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Info describes one isolated working copy bound to a task.
type Info struct {
	// TaskID is the task this worktree was created for.
	TaskID string `json:"taskId"`

	// Path is the absolute path of the working copy on disk.
	Path string `json:"path"`

	// Branch is the dedicated branch checked out in this worktree.
	Branch string `json:"branch"`

	// BaseBranch is the branch the dedicated branch was created from.
	BaseBranch string `json:"baseBranch"`

	// CreatedAt is when the worktree was created.
	CreatedAt time.Time `json:"createdAt"`

	// LastActivity is the most recent activity timestamp.
	LastActivity time.Time `json:"lastActivity"`

	// Status is derived from LastActivity at refresh time.
	Status Status `json:"status"`
}

// RegistryVersion is the current on-disk registry document version.
const RegistryVersion = 1

// Registry is the durable index of all worktrees for a repository.
// It is rewritten as a whole on every mutation.
type Registry struct {
	Version     int              `json:"version"`
	BaseDir     string           `json:"baseDir"`
	Worktrees   map[string]*Info `json:"worktrees"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// RemoveOptions controls worktree removal.
type RemoveOptions struct {
	// DeleteBranch also deletes the worktree's branch. By default the
	// branch is retained so the task's history stays inspectable.
	DeleteBranch bool
}

// DefaultCleanupMaxAge is the age past which an inactive worktree is
// considered reclaimable.
const DefaultCleanupMaxAge = time.Hour

// CleanupOptions controls a cleanup pass over the registry.
type CleanupOptions struct {
	// MaxAge is the inactivity threshold for reclamation. Zero means
	// DefaultCleanupMaxAge.
	MaxAge time.Duration

	// DryRun reports what would be removed without touching disk.
	DryRun bool

	// Force removes worktrees even when they have uncommitted changes.
	Force bool
}

// CleanupReport lists the outcome of a cleanup pass by task ID.
// Failures are reported, never thrown: cleanup is a maintenance
// operation and must make progress past individual bad entries.
type CleanupReport struct {
	Removed []string
	Failed  []string
	Skipped []string
}
