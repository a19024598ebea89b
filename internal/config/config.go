package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Maestro configuration
type Config struct {
	Worktree WorktreeConfig `mapstructure:"worktree"`
	Queue    QueueConfig    `mapstructure:"queue"`
	QA       QAConfig       `mapstructure:"qa"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WorktreeConfig controls worktree placement, branch naming, and the
// activity thresholds that drive status derivation and cleanup
type WorktreeConfig struct {
	// Root is the directory where git worktrees are created.
	// If empty, defaults to ".maestro/worktrees" relative to the repository root.
	// Can be an absolute path to store worktrees outside the repository.
	// Supports ~ for home directory expansion.
	Root string `mapstructure:"root"`
	// BranchPrefix namespaces branches created for tasks (default: "maestro")
	BranchPrefix string `mapstructure:"branch_prefix"`
	// BaseBranch is the branch new worktrees fork from.
	// Empty means auto-detect (main, falling back to master).
	BaseBranch string `mapstructure:"base_branch"`
	// ActiveThresholdMinutes is how recently a worktree must have been
	// touched to count as active (default: 15)
	ActiveThresholdMinutes int `mapstructure:"active_threshold_minutes"`
	// StaleThresholdMinutes is the age past which a worktree counts as
	// stale rather than idle (default: 60)
	StaleThresholdMinutes int `mapstructure:"stale_threshold_minutes"`
	// CleanupMaxAgeMinutes is the minimum age before cleanup reclaims a
	// worktree (default: 60)
	CleanupMaxAgeMinutes int `mapstructure:"cleanup_max_age_minutes"`
}

// QueueConfig controls task queue behavior
type QueueConfig struct {
	// StateDir is where the queue persists its state between runs.
	// If empty, defaults to ".maestro" relative to the repository root.
	StateDir string `mapstructure:"state_dir"`
	// MaxRetries is how many times a failed task is retried before it
	// fails permanently (default: 2)
	MaxRetries int `mapstructure:"max_retries"`
	// StaleClaimMinutes is the age past which an unstarted claim is
	// released back to pending, 0 disables stale release (default: 30)
	StaleClaimMinutes int `mapstructure:"stale_claim_minutes"`
}

// QAConfig controls the verification loop
type QAConfig struct {
	// MaxIterations limits fix-and-retry cycles before escalation (default: 3)
	MaxIterations int `mapstructure:"max_iterations"`
	// BuildCommand compiles the work under verification
	BuildCommand string `mapstructure:"build_command"`
	// LintCommand statically analyzes the work
	LintCommand string `mapstructure:"lint_command"`
	// TestCommand runs the test suite with machine-readable output
	TestCommand string `mapstructure:"test_command"`
	// TestTimeoutMinutes bounds a full test run (default: 5)
	TestTimeoutMinutes int `mapstructure:"test_timeout_minutes"`
}

// RunnerConfig controls sandboxed command execution
type RunnerConfig struct {
	// TimeoutSeconds is the default per-command timeout (default: 30)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// DenyPatterns are extra glob patterns blocked on top of the
	// built-in destructive command deny-list
	DenyPatterns []string `mapstructure:"deny_patterns"`
}

// LoggingConfig controls structured logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory the log file is written to.
	// Empty means log to stderr.
	Dir string `mapstructure:"dir"`
}

// ActiveThreshold returns the active threshold as a time.Duration
func (w *WorktreeConfig) ActiveThreshold() time.Duration {
	return time.Duration(w.ActiveThresholdMinutes) * time.Minute
}

// StaleThreshold returns the stale threshold as a time.Duration
func (w *WorktreeConfig) StaleThreshold() time.Duration {
	return time.Duration(w.StaleThresholdMinutes) * time.Minute
}

// CleanupMaxAge returns the cleanup age threshold as a time.Duration
func (w *WorktreeConfig) CleanupMaxAge() time.Duration {
	return time.Duration(w.CleanupMaxAgeMinutes) * time.Minute
}

// ResolveRoot returns the resolved worktree root path.
// If Root is empty, it returns the default path relative to baseDir.
// If Root starts with ~, it expands to the user's home directory.
// If Root is a relative path, it's resolved relative to baseDir.
func (w *WorktreeConfig) ResolveRoot(baseDir string) string {
	if w.Root == "" {
		return filepath.Join(baseDir, ".maestro", "worktrees")
	}

	path := w.Root

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// StaleClaimAge returns the stale claim age as a time.Duration (0 means disabled)
func (q *QueueConfig) StaleClaimAge() time.Duration {
	return time.Duration(q.StaleClaimMinutes) * time.Minute
}

// ResolveStateDir returns the resolved queue state directory.
// If StateDir is empty, it returns the default path relative to baseDir.
func (q *QueueConfig) ResolveStateDir(baseDir string) string {
	if q.StateDir == "" {
		return filepath.Join(baseDir, ".maestro")
	}
	if !filepath.IsAbs(q.StateDir) {
		return filepath.Join(baseDir, q.StateDir)
	}
	return q.StateDir
}

// TestTimeout returns the test run timeout as a time.Duration
func (q *QAConfig) TestTimeout() time.Duration {
	return time.Duration(q.TestTimeoutMinutes) * time.Minute
}

// Timeout returns the default command timeout as a time.Duration
func (r *RunnerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Worktree: WorktreeConfig{
			Root:                   "", // Empty means use default: .maestro/worktrees
			BranchPrefix:           "maestro",
			BaseBranch:             "", // Empty means auto-detect
			ActiveThresholdMinutes: 15,
			StaleThresholdMinutes:  60,
			CleanupMaxAgeMinutes:   60,
		},
		Queue: QueueConfig{
			StateDir:          "", // Empty means use default: .maestro
			MaxRetries:        2,
			StaleClaimMinutes: 30,
		},
		QA: QAConfig{
			MaxIterations:      3,
			BuildCommand:       "npx tsc --noEmit",
			LintCommand:        "npx eslint . --format json",
			TestCommand:        "npx jest --json --coverage",
			TestTimeoutMinutes: 5,
		},
		Runner: RunnerConfig{
			TimeoutSeconds: 30,
			DenyPatterns:   []string{},
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Dir:     "", // Empty means log to stderr
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Worktree defaults
	viper.SetDefault("worktree.root", defaults.Worktree.Root)
	viper.SetDefault("worktree.branch_prefix", defaults.Worktree.BranchPrefix)
	viper.SetDefault("worktree.base_branch", defaults.Worktree.BaseBranch)
	viper.SetDefault("worktree.active_threshold_minutes", defaults.Worktree.ActiveThresholdMinutes)
	viper.SetDefault("worktree.stale_threshold_minutes", defaults.Worktree.StaleThresholdMinutes)
	viper.SetDefault("worktree.cleanup_max_age_minutes", defaults.Worktree.CleanupMaxAgeMinutes)

	// Queue defaults
	viper.SetDefault("queue.state_dir", defaults.Queue.StateDir)
	viper.SetDefault("queue.max_retries", defaults.Queue.MaxRetries)
	viper.SetDefault("queue.stale_claim_minutes", defaults.Queue.StaleClaimMinutes)

	// QA defaults
	viper.SetDefault("qa.max_iterations", defaults.QA.MaxIterations)
	viper.SetDefault("qa.build_command", defaults.QA.BuildCommand)
	viper.SetDefault("qa.lint_command", defaults.QA.LintCommand)
	viper.SetDefault("qa.test_command", defaults.QA.TestCommand)
	viper.SetDefault("qa.test_timeout_minutes", defaults.QA.TestTimeoutMinutes)

	// Runner defaults
	viper.SetDefault("runner.timeout_seconds", defaults.Runner.TimeoutSeconds)
	viper.SetDefault("runner.deny_patterns", defaults.Runner.DenyPatterns)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestro")
	}
	// Fall back to ~/.config/maestro
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro"
	}
	return filepath.Join(home, ".config", "maestro")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
