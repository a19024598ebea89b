package qa

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/logging"
	"github.com/maestro-cli/maestro/internal/procrun"
)

// DefaultBuildCommand compiles without emitting output; only diagnostics
// matter to the QA loop.
const DefaultBuildCommand = "npx tsc --noEmit"

// commandRunner is the slice of the process runner the verifiers need.
// Tests substitute a fake that returns canned tool output.
type commandRunner interface {
	Run(ctx context.Context, command string, opts *procrun.Options) (*procrun.Result, error)
}

// diagnosticPattern matches "file(line,col): error CODE: message" style
// compiler output. The column is optional.
var diagnosticPattern = regexp.MustCompile(`^(.+?)\((\d+)(?:,(\d+))?\): (error|warning) ([A-Za-z]+\d+): (.+)$`)

// configErrorPattern recognizes the compiler complaining about its own
// configuration rather than about the code under verification.
var configErrorPattern = regexp.MustCompile(`(?i)(cannot find|unable to read|error reading|invalid) .*(tsconfig|config(uration)? file)`)

// BuildVerifier runs the project's compile/type-check tool and parses
// its diagnostics.
type BuildVerifier struct {
	runner  commandRunner
	command string
	timeout time.Duration
	logger  *logging.Logger
}

// BuildOption configures a BuildVerifier.
type BuildOption func(*BuildVerifier)

// WithBuildCommand overrides the compile command.
func WithBuildCommand(command string) BuildOption {
	return func(v *BuildVerifier) {
		if command != "" {
			v.command = command
		}
	}
}

// WithBuildTimeout overrides the per-run timeout.
func WithBuildTimeout(d time.Duration) BuildOption {
	return func(v *BuildVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithBuildLogger sets the logger.
func WithBuildLogger(logger *logging.Logger) BuildOption {
	return func(v *BuildVerifier) { v.logger = logger }
}

// NewBuildVerifier creates a BuildVerifier executing through the given runner.
func NewBuildVerifier(runner commandRunner, opts ...BuildOption) *BuildVerifier {
	v := &BuildVerifier{
		runner:  runner,
		command: DefaultBuildCommand,
		timeout: 2 * time.Minute,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run compiles the project in workdir. A failing build is returned as
// data; a broken build configuration is a *errors.ConfigError because no
// amount of QA iteration can fix the environment.
func (v *BuildVerifier) Run(ctx context.Context, workdir string) (*VerificationResult, error) {
	start := time.Now()
	_, err := v.runner.Run(ctx, v.command, &procrun.Options{Dir: workdir, Timeout: v.timeout})
	duration := time.Since(start)

	var procErr *errors.ProcessError
	switch {
	case err == nil:
		return &VerificationResult{Success: true, Duration: duration}, nil
	case errors.Is(err, errors.ErrProcessTimeout):
		// A timed-out compile produced no diagnostics worth parsing.
		// Surface the typed timeout so callers can retry instead of
		// treating the empty output as a failed build.
		return nil, err
	case errors.As(err, &procErr):
		output := procErr.Stdout + "\n" + procErr.Stderr
		if configErrorPattern.MatchString(output) {
			return nil, &errors.ConfigError{Tool: "build", Message: firstLine(output)}
		}
		result := parseBuildDiagnostics(output)
		result.Duration = duration
		v.logger.Debug("build failed",
			"errors", len(result.Errors),
			"warnings", len(result.Warnings),
		)
		return result, nil
	default:
		return nil, err
	}
}

// parseBuildDiagnostics converts compiler output lines into the uniform
// error/warning shape. Unparseable non-empty output still yields one
// error so a failing build is never reported as clean.
func parseBuildDiagnostics(output string) *VerificationResult {
	result := &VerificationResult{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		m := diagnosticPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		column := 0
		if m[3] != "" {
			column, _ = strconv.Atoi(m[3])
		}
		ve := VerificationError{
			Type:    "build",
			File:    m[1],
			Line:    lineNo,
			Column:  column,
			Code:    m[5],
			Message: m[6],
		}
		if m[4] == "error" {
			result.Errors = append(result.Errors, ve)
		} else {
			result.Warnings = append(result.Warnings, ve)
		}
	}

	if len(result.Errors) == 0 {
		if msg := firstLine(output); msg != "" {
			result.Errors = append(result.Errors, VerificationError{
				Type:    "build",
				Message: msg,
			})
		}
	}
	result.Success = false
	return result
}

// firstLine returns the first non-empty line of output.
func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
