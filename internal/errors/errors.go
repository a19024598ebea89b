// Package errors provides centralized error definitions and error handling
// utilities for the Maestro codebase. It defines domain-specific errors,
// semantic error types, and classification helpers.
//
// Two kinds of failure exist in Maestro and they are deliberately kept
// apart. Expected task failure (a build that does not compile, tests that
// fail, a review that rejects) is represented as data on the verification
// result types, never as an error value. The types in this package cover
// the other kind: the system itself cannot proceed (a blocked command, a
// missing worktree, broken tool configuration, a timed-out process).
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrWorktreeExists) { ... }
//
//	var procErr *errors.ProcessError
//	if errors.As(err, &procErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning Severity = iota
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Worktree-related sentinel errors
var (
	// ErrWorktreeNotFound indicates that no worktree is registered for a task.
	ErrWorktreeNotFound = New("worktree not found")
	// ErrWorktreeExists indicates that a worktree already exists for a task.
	ErrWorktreeExists = New("worktree already exists")
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrRegistryCorrupt indicates that the on-disk registry could not be parsed.
	ErrRegistryCorrupt = New("worktree registry corrupt")
)

// Process-related sentinel errors
var (
	// ErrCommandBlocked indicates that a command matched the deny-list.
	ErrCommandBlocked = New("command blocked by policy")
	// ErrProcessTimeout indicates that a process exceeded its timeout.
	ErrProcessTimeout = New("process timed out")
)

// Verification-related sentinel errors
var (
	// ErrBuildConfig indicates the build tool configuration is missing or invalid.
	ErrBuildConfig = New("build configuration invalid")
	// ErrLintConfig indicates the lint tool has no usable configuration.
	ErrLintConfig = New("lint configuration not found")
	// ErrTestTimeout indicates the test run exceeded its timeout.
	ErrTestTimeout = New("test run timed out")
)

// Scheduler-related sentinel errors
var (
	// ErrHandleNotFound indicates an unknown execution handle ID.
	ErrHandleNotFound = New("execution handle not found")
	// ErrPlanInvalid indicates that a submitted plan failed validation.
	ErrPlanInvalid = New("plan is invalid")
	// ErrAgentAssigned indicates an agent already holds a worktree assignment.
	ErrAgentAssigned = New("agent already has a worktree assigned")
)

// -----------------------------------------------------------------------------
// Process Errors
// -----------------------------------------------------------------------------

// BlockedCommandError is returned when a command matches the destructive
// command deny-list. The process is never spawned.
type BlockedCommandError struct {
	Command string // The offending command
	Pattern string // The deny-list pattern that matched
}

// Error returns the error message.
func (e *BlockedCommandError) Error() string {
	return fmt.Sprintf("command blocked by policy (pattern %q): %s", e.Pattern, e.Command)
}

// Is reports whether this error matches ErrCommandBlocked.
func (e *BlockedCommandError) Is(target error) bool {
	return target == ErrCommandBlocked
}

// Severity returns the error severity.
func (e *BlockedCommandError) Severity() Severity { return SeverityCritical }

// ProcessError is returned when an external command exits non-zero.
// It carries the captured output so callers can surface tool diagnostics.
type ProcessError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Error returns the error message.
func (e *ProcessError) Error() string {
	return fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, e.Command)
}

// Severity returns the error severity.
func (e *ProcessError) Severity() Severity { return SeverityError }

// TimeoutError is returned when a process exceeds its configured timeout
// and its process tree is killed. It wraps a ProcessError so callers that
// match on *ProcessError still see the command context.
type TimeoutError struct {
	ProcessError
	Timeout time.Duration // The configured timeout that was exceeded
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Command)
}

// Unwrap exposes the embedded ProcessError for errors.As matching.
func (e *TimeoutError) Unwrap() error {
	return &e.ProcessError
}

// Is reports whether this error matches ErrProcessTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrProcessTimeout
}

// -----------------------------------------------------------------------------
// Worktree Errors
// -----------------------------------------------------------------------------

// WorktreeExistsError is returned when creating a worktree for a task that
// already has one. Creation is not idempotent: the second caller must fail
// rather than silently reuse the first worktree.
type WorktreeExistsError struct {
	TaskID string
}

// Error returns the error message.
func (e *WorktreeExistsError) Error() string {
	return fmt.Sprintf("worktree already exists for task %s", e.TaskID)
}

// Is reports whether this error matches ErrWorktreeExists.
func (e *WorktreeExistsError) Is(target error) bool {
	return target == ErrWorktreeExists
}

// WorktreeNotFoundError is returned when an operation references a task
// with no registered worktree.
type WorktreeNotFoundError struct {
	TaskID string
}

// Error returns the error message.
func (e *WorktreeNotFoundError) Error() string {
	return fmt.Sprintf("no worktree found for task %s", e.TaskID)
}

// Is reports whether this error matches ErrWorktreeNotFound.
func (e *WorktreeNotFoundError) Is(target error) bool {
	return target == ErrWorktreeNotFound
}

// RegistryCorruptError is returned when the registry file exists but cannot
// be parsed. A missing registry is created on demand; a corrupt one fails
// loudly so operators do not silently lose worktree bookkeeping.
type RegistryCorruptError struct {
	Path  string
	Cause error
}

// Error returns the error message.
func (e *RegistryCorruptError) Error() string {
	return fmt.Sprintf("worktree registry at %s is corrupt: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying parse error.
func (e *RegistryCorruptError) Unwrap() error { return e.Cause }

// Is reports whether this error matches ErrRegistryCorrupt.
func (e *RegistryCorruptError) Is(target error) bool {
	return target == ErrRegistryCorrupt
}

// -----------------------------------------------------------------------------
// Verification Errors
// -----------------------------------------------------------------------------

// ConfigError is returned when the build tool reports that its own
// configuration is missing or invalid. This is an infrastructure failure:
// retrying the QA loop cannot fix it.
type ConfigError struct {
	Tool    string // The tool that rejected its configuration
	Message string // The diagnostic emitted by the tool
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s configuration error: %s", e.Tool, e.Message)
}

// Is reports whether this error matches ErrBuildConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrBuildConfig
}

// Severity returns the error severity.
func (e *ConfigError) Severity() Severity { return SeverityCritical }

// LintConfigError is returned when the lint tool cannot find a configuration.
type LintConfigError struct {
	Tool    string
	Message string
}

// Error returns the error message.
func (e *LintConfigError) Error() string {
	return fmt.Sprintf("%s found no configuration: %s", e.Tool, e.Message)
}

// Is reports whether this error matches ErrLintConfig.
func (e *LintConfigError) Is(target error) bool {
	return target == ErrLintConfig
}

// TestTimeoutError is returned when the test runner exceeds its timeout.
type TestTimeoutError struct {
	Timeout time.Duration
}

// Error returns the error message.
func (e *TestTimeoutError) Error() string {
	return fmt.Sprintf("test run timed out after %s", e.Timeout)
}

// Is reports whether this error matches ErrTestTimeout.
func (e *TestTimeoutError) Is(target error) bool {
	return target == ErrTestTimeout
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the operation that produced err may succeed
// on retry. Policy rejections, configuration failures, and resource
// conflicts are never retryable; a plain non-zero exit or timeout may be.
func IsRetryable(err error) bool {
	switch {
	case Is(err, ErrCommandBlocked),
		Is(err, ErrBuildConfig),
		Is(err, ErrLintConfig),
		Is(err, ErrWorktreeExists),
		Is(err, ErrWorktreeNotFound),
		Is(err, ErrRegistryCorrupt):
		return false
	case Is(err, ErrProcessTimeout), Is(err, ErrTestTimeout):
		return true
	}
	var procErr *ProcessError
	return As(err, &procErr)
}

// IsInfrastructure returns true if err indicates the environment itself is
// broken (missing or invalid tool configuration, corrupt registry). The QA
// loop surfaces these immediately instead of iterating on them.
func IsInfrastructure(err error) bool {
	return Is(err, ErrBuildConfig) ||
		Is(err, ErrLintConfig) ||
		Is(err, ErrRegistryCorrupt)
}
