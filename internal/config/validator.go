package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "qa.max_iterations")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates branch prefix characters
// Branch names should start with alphanumeric and can contain alphanumeric, hyphen, underscore
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateWorktree()...)
	errors = append(errors, c.validateQueue()...)
	errors = append(errors, c.validateQA()...)
	errors = append(errors, c.validateRunner()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateWorktree validates the WorktreeConfig
func (c *Config) validateWorktree() []ValidationError {
	var errors []ValidationError

	if c.Worktree.BranchPrefix == "" {
		errors = append(errors, ValidationError{
			Field:   "worktree.branch_prefix",
			Value:   c.Worktree.BranchPrefix,
			Message: "cannot be empty",
		})
	} else if !branchPrefixRegex.MatchString(c.Worktree.BranchPrefix) {
		errors = append(errors, ValidationError{
			Field:   "worktree.branch_prefix",
			Value:   c.Worktree.BranchPrefix,
			Message: "must start with a letter and contain only alphanumeric characters, hyphens, or underscores",
		})
	}

	// Git branch names have length limits
	const maxBranchPrefixLength = 50
	if len(c.Worktree.BranchPrefix) > maxBranchPrefixLength {
		errors = append(errors, ValidationError{
			Field:   "worktree.branch_prefix",
			Value:   c.Worktree.BranchPrefix,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", maxBranchPrefixLength),
		})
	}

	if c.Worktree.ActiveThresholdMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worktree.active_threshold_minutes",
			Value:   c.Worktree.ActiveThresholdMinutes,
			Message: "must be positive",
		})
	}
	if c.Worktree.StaleThresholdMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worktree.stale_threshold_minutes",
			Value:   c.Worktree.StaleThresholdMinutes,
			Message: "must be positive",
		})
	}

	// The status ladder only makes sense when active comes before stale
	if c.Worktree.ActiveThresholdMinutes > 0 && c.Worktree.StaleThresholdMinutes > 0 &&
		c.Worktree.ActiveThresholdMinutes >= c.Worktree.StaleThresholdMinutes {
		errors = append(errors, ValidationError{
			Field:   "worktree.active_threshold_minutes",
			Value:   c.Worktree.ActiveThresholdMinutes,
			Message: fmt.Sprintf("must be less than stale_threshold_minutes (%d)", c.Worktree.StaleThresholdMinutes),
		})
	}

	if c.Worktree.CleanupMaxAgeMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worktree.cleanup_max_age_minutes",
			Value:   c.Worktree.CleanupMaxAgeMinutes,
			Message: "must be positive",
		})
	}

	if strings.ContainsRune(c.Worktree.Root, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "worktree.root",
			Value:   c.Worktree.Root,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

// validateQueue validates the QueueConfig
func (c *Config) validateQueue() []ValidationError {
	var errors []ValidationError

	if c.Queue.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "queue.max_retries",
			Value:   c.Queue.MaxRetries,
			Message: "must be non-negative (0 fails tasks on first error)",
		})
	}

	if c.Queue.StaleClaimMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "queue.stale_claim_minutes",
			Value:   c.Queue.StaleClaimMinutes,
			Message: "must be non-negative (0 disables stale release)",
		})
	}

	return errors
}

// validateQA validates the QAConfig
func (c *Config) validateQA() []ValidationError {
	var errors []ValidationError

	if c.QA.MaxIterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "qa.max_iterations",
			Value:   c.QA.MaxIterations,
			Message: "must be at least 1",
		})
	}

	// Reasonable upper bound so a typo cannot spin the loop for hours
	const maxIterationsLimit = 20
	if c.QA.MaxIterations > maxIterationsLimit {
		errors = append(errors, ValidationError{
			Field:   "qa.max_iterations",
			Value:   c.QA.MaxIterations,
			Message: fmt.Sprintf("exceeds maximum of %d", maxIterationsLimit),
		})
	}

	for field, command := range map[string]string{
		"qa.build_command": c.QA.BuildCommand,
		"qa.lint_command":  c.QA.LintCommand,
		"qa.test_command":  c.QA.TestCommand,
	} {
		if strings.TrimSpace(command) == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   command,
				Message: "cannot be empty",
			})
		}
	}

	if c.QA.TestTimeoutMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "qa.test_timeout_minutes",
			Value:   c.QA.TestTimeoutMinutes,
			Message: "must be positive",
		})
	}

	return errors
}

// validateRunner validates the RunnerConfig
func (c *Config) validateRunner() []ValidationError {
	var errors []ValidationError

	if c.Runner.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "runner.timeout_seconds",
			Value:   c.Runner.TimeoutSeconds,
			Message: "must be positive",
		})
	}

	// Deny patterns must compile; a broken pattern would silently allow
	// the command it was meant to block
	for i, pattern := range c.Runner.DenyPatterns {
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("runner.deny_patterns[%d]", i),
				Value:   pattern,
				Message: "pattern cannot be empty",
			})
			continue
		}
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("runner.deny_patterns[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
