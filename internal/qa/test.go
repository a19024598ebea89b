package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/logging"
	"github.com/maestro-cli/maestro/internal/procrun"
)

// DefaultTestTimeout bounds a full test run. Test suites legitimately
// run far longer than generic commands.
const DefaultTestTimeout = 5 * time.Minute

// DefaultTestCommand asks the runner for machine-readable results and
// coverage.
const DefaultTestCommand = "npx jest --json --coverage"

// testReport mirrors the test runner's JSON summary.
type testReport struct {
	NumTotalTests   int `json:"numTotalTests"`
	NumPassedTests  int `json:"numPassedTests"`
	NumFailedTests  int `json:"numFailedTests"`
	NumPendingTests int `json:"numPendingTests"`
	TestResults     []struct {
		Name             string `json:"name"`
		AssertionResults []struct {
			Title           string   `json:"title"`
			Status          string   `json:"status"`
			FailureMessages []string `json:"failureMessages"`
		} `json:"assertionResults"`
	} `json:"testResults"`
	CoverageSummary struct {
		Total struct {
			Lines struct {
				Pct float64 `json:"pct"`
			} `json:"lines"`
		} `json:"total"`
	} `json:"coverageSummary"`
}

// TestVerifier runs the project's test suite and maps its structured
// output into a TestResult.
type TestVerifier struct {
	runner  commandRunner
	command string
	timeout time.Duration
	logger  *logging.Logger
}

// TestOption configures a TestVerifier.
type TestOption func(*TestVerifier)

// WithTestCommand overrides the test command.
func WithTestCommand(command string) TestOption {
	return func(v *TestVerifier) {
		if command != "" {
			v.command = command
		}
	}
}

// WithTestTimeout overrides the test run timeout.
func WithTestTimeout(d time.Duration) TestOption {
	return func(v *TestVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithTestLogger sets the logger.
func WithTestLogger(logger *logging.Logger) TestOption {
	return func(v *TestVerifier) { v.logger = logger }
}

// NewTestVerifier creates a TestVerifier executing through the given runner.
func NewTestVerifier(runner commandRunner, opts ...TestOption) *TestVerifier {
	v := &TestVerifier{
		runner:  runner,
		command: DefaultTestCommand,
		timeout: DefaultTestTimeout,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run executes the suite in workdir. Failing tests are data; a timed-out
// run is a *errors.TestTimeoutError carrying the configured timeout.
func (v *TestVerifier) Run(ctx context.Context, workdir string) (*TestResult, error) {
	start := time.Now()
	res, err := v.runner.Run(ctx, v.command, &procrun.Options{Dir: workdir, Timeout: v.timeout})
	duration := time.Since(start)

	output := ""
	var procErr *errors.ProcessError
	switch {
	case err == nil:
		output = res.Stdout
	case errors.Is(err, errors.ErrProcessTimeout):
		return nil, &errors.TestTimeoutError{Timeout: v.timeout}
	case errors.As(err, &procErr):
		// Test runners exit non-zero on failing tests; the JSON report
		// is still produced.
		output = procErr.Stdout
	default:
		return nil, err
	}

	result, parseErr := parseTestReport(output)
	if parseErr != nil {
		return nil, fmt.Errorf("unreadable test output: %w", parseErr)
	}
	result.Duration = duration
	v.logger.Debug("tests finished",
		"total", result.Total,
		"failed", result.Failed,
	)
	return result, nil
}

// parseTestReport maps the runner's JSON summary to a TestResult.
func parseTestReport(output string) (*TestResult, error) {
	var report testReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &report); err != nil {
		return nil, err
	}

	result := &TestResult{
		Total:    report.NumTotalTests,
		Passed:   report.NumPassedTests,
		Failed:   report.NumFailedTests,
		Skipped:  report.NumPendingTests,
		Coverage: report.CoverageSummary.Total.Lines.Pct,
	}
	for _, file := range report.TestResults {
		for _, a := range file.AssertionResults {
			if a.Status != "failed" {
				continue
			}
			failure := TestFailure{
				TestName: a.Title,
				File:     file.Name,
			}
			if len(a.FailureMessages) > 0 {
				failure.Message = firstLine(a.FailureMessages[0])
				failure.Stack = strings.Join(a.FailureMessages, "\n")
			}
			result.Failures = append(result.Failures, failure)

			result.Errors = append(result.Errors, VerificationError{
				Type:    "test",
				File:    file.Name,
				Message: fmt.Sprintf("%s: %s", a.Title, failure.Message),
			})
		}
	}
	result.Success = result.Failed == 0
	return result, nil
}
