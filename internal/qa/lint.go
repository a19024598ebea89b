package qa

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/logging"
	"github.com/maestro-cli/maestro/internal/procrun"
)

// Default lint invocations: machine-readable output for verification, an
// in-place fix variant for the QA loop's repair pass.
const (
	DefaultLintCommand = "npx eslint . --format json"
	DefaultFixCommand  = "npx eslint . --fix --format json"
)

// lintFileReport mirrors one entry of the linter's JSON output.
type lintFileReport struct {
	FilePath string `json:"filePath"`
	Messages []struct {
		RuleID   string `json:"ruleId"`
		Severity int    `json:"severity"` // 2 = error, 1 = warning
		Message  string `json:"message"`
		Line     int    `json:"line"`
		Column   int    `json:"column"`
	} `json:"messages"`
}

// LintVerifier runs the project's static-analysis tool and separates its
// findings into errors and warnings.
type LintVerifier struct {
	runner     commandRunner
	command    string
	fixCommand string
	timeout    time.Duration
	logger     *logging.Logger
}

// LintOption configures a LintVerifier.
type LintOption func(*LintVerifier)

// WithLintCommand overrides the lint command.
func WithLintCommand(command string) LintOption {
	return func(v *LintVerifier) {
		if command != "" {
			v.command = command
		}
	}
}

// WithLintFixCommand overrides the auto-fix command.
func WithLintFixCommand(command string) LintOption {
	return func(v *LintVerifier) {
		if command != "" {
			v.fixCommand = command
		}
	}
}

// WithLintTimeout overrides the per-run timeout.
func WithLintTimeout(d time.Duration) LintOption {
	return func(v *LintVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithLintLogger sets the logger.
func WithLintLogger(logger *logging.Logger) LintOption {
	return func(v *LintVerifier) { v.logger = logger }
}

// NewLintVerifier creates a LintVerifier executing through the given runner.
func NewLintVerifier(runner commandRunner, opts ...LintOption) *LintVerifier {
	v := &LintVerifier{
		runner:     runner,
		command:    DefaultLintCommand,
		fixCommand: DefaultFixCommand,
		timeout:    2 * time.Minute,
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run lints workdir. Violations come back as data; a linter with no
// usable configuration is a *errors.LintConfigError.
func (v *LintVerifier) Run(ctx context.Context, workdir string) (*VerificationResult, error) {
	return v.run(ctx, workdir, v.command)
}

// Fix runs the auto-fix variant, then reports what remains unfixed.
func (v *LintVerifier) Fix(ctx context.Context, workdir string) (*VerificationResult, error) {
	return v.run(ctx, workdir, v.fixCommand)
}

func (v *LintVerifier) run(ctx context.Context, workdir, command string) (*VerificationResult, error) {
	start := time.Now()
	res, err := v.runner.Run(ctx, command, &procrun.Options{Dir: workdir, Timeout: v.timeout})
	duration := time.Since(start)

	// Linters exit non-zero when violations exist; the JSON report is
	// still on stdout. Only a missing report is an infrastructure error.
	output := ""
	var procErr *errors.ProcessError
	switch {
	case err == nil:
		output = res.Stdout
	case errors.Is(err, errors.ErrProcessTimeout):
		// No report was produced; a timeout is transient, not a missing
		// configuration.
		return nil, err
	case errors.As(err, &procErr):
		if noConfig(procErr.Stderr) || noConfig(procErr.Stdout) {
			return nil, &errors.LintConfigError{Tool: "lint", Message: firstLine(procErr.Stderr + "\n" + procErr.Stdout)}
		}
		output = procErr.Stdout
	default:
		return nil, err
	}

	result, parseErr := parseLintReport(output)
	if parseErr != nil {
		return nil, &errors.LintConfigError{Tool: "lint", Message: "unreadable lint output: " + parseErr.Error()}
	}
	result.Duration = duration
	v.logger.Debug("lint finished",
		"errors", len(result.Errors),
		"warnings", len(result.Warnings),
	)
	return result, nil
}

// noConfig recognizes the linter reporting it has nothing to run with.
func noConfig(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no configuration found") ||
		strings.Contains(lower, "couldn't find a configuration file") ||
		strings.Contains(lower, "could not find config")
}

// parseLintReport maps severity-2 findings to errors and severity-1 to
// warnings.
func parseLintReport(output string) (*VerificationResult, error) {
	var reports []lintFileReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &reports); err != nil {
		return nil, err
	}

	result := &VerificationResult{}
	for _, r := range reports {
		for _, m := range r.Messages {
			ve := VerificationError{
				Type:    "lint",
				File:    r.FilePath,
				Line:    m.Line,
				Column:  m.Column,
				Code:    m.RuleID,
				Message: m.Message,
			}
			switch m.Severity {
			case 2:
				result.Errors = append(result.Errors, ve)
			case 1:
				result.Warnings = append(result.Warnings, ve)
			}
		}
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}
