package qa

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/procrun"
)

// fakeRunner returns scripted results and records the invocation.
type fakeRunner struct {
	lastCommand string
	lastOpts    *procrun.Options
	result      *procrun.Result
	err         error
}

func (f *fakeRunner) Run(ctx context.Context, command string, opts *procrun.Options) (*procrun.Result, error) {
	f.lastCommand = command
	f.lastOpts = opts
	return f.result, f.err
}

// -----------------------------------------------------------------------------
// Build stage
// -----------------------------------------------------------------------------

func TestBuildRunSuccess(t *testing.T) {
	runner := &fakeRunner{result: &procrun.Result{ExitCode: 0}}
	v := NewBuildVerifier(runner, WithBuildCommand("tsc --noEmit"))

	res, err := v.Run(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || len(res.Errors) != 0 {
		t.Errorf("result = %+v, want clean success", res)
	}
	if runner.lastCommand != "tsc --noEmit" {
		t.Errorf("command = %q", runner.lastCommand)
	}
	if runner.lastOpts.Dir != "/work" {
		t.Errorf("dir = %q, want /work", runner.lastOpts.Dir)
	}
}

func TestBuildRunParsesDiagnostics(t *testing.T) {
	output := "src/api.ts(10,5): error TS2322: Type 'string' is not assignable to type 'number'.\n" +
		"src/api.ts(22): error TS2304: Cannot find name 'foo'.\n" +
		"src/util.ts(3,1): warning TS6133: 'x' is declared but never used.\n"
	runner := &fakeRunner{err: &errors.ProcessError{Command: "build", ExitCode: 2, Stdout: output}}
	v := NewBuildVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Error("failing build reported as success")
	}
	if len(res.Errors) != 2 || len(res.Warnings) != 1 {
		t.Fatalf("errors = %d, warnings = %d, want 2 and 1", len(res.Errors), len(res.Warnings))
	}

	first := res.Errors[0]
	if first.File != "src/api.ts" || first.Line != 10 || first.Column != 5 || first.Code != "TS2322" {
		t.Errorf("first error = %+v", first)
	}
	// Column is optional.
	if second := res.Errors[1]; second.Line != 22 || second.Column != 0 || second.Code != "TS2304" {
		t.Errorf("second error = %+v", second)
	}
}

func TestBuildRunUnparseableOutput(t *testing.T) {
	runner := &fakeRunner{err: &errors.ProcessError{Command: "build", ExitCode: 1, Stderr: "segmentation fault"}}
	v := NewBuildVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success || len(res.Errors) != 1 {
		t.Fatalf("result = %+v, want one synthesized error", res)
	}
	if res.Errors[0].Message != "segmentation fault" {
		t.Errorf("message = %q", res.Errors[0].Message)
	}
}

func TestBuildRunConfigError(t *testing.T) {
	runner := &fakeRunner{err: &errors.ProcessError{
		Command: "build", ExitCode: 1,
		Stderr: "error TS5058: Cannot find tsconfig file at '/work/tsconfig.json'.",
	}}
	v := NewBuildVerifier(runner)

	_, err := v.Run(context.Background(), "/work")
	if !errors.Is(err, errors.ErrBuildConfig) {
		t.Fatalf("Run = %v, want ErrBuildConfig", err)
	}
	var cfgErr *errors.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Tool != "build" {
		t.Errorf("error = %#v", err)
	}
}

func TestBuildRunTimeout(t *testing.T) {
	runner := &fakeRunner{err: &errors.TimeoutError{
		ProcessError: errors.ProcessError{Command: "build"},
		Timeout:      time.Second,
	}}
	v := NewBuildVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if res != nil {
		t.Errorf("result = %+v, want nil on timeout", res)
	}
	if !errors.Is(err, errors.ErrProcessTimeout) {
		t.Fatalf("Run = %v, want ErrProcessTimeout", err)
	}
	var cfgErr *errors.ConfigError
	if errors.As(err, &cfgErr) {
		t.Errorf("timeout misreported as a config error: %v", err)
	}
}

func TestBuildRunPropagatesBlockedCommand(t *testing.T) {
	runner := &fakeRunner{err: &errors.BlockedCommandError{Command: "x", Pattern: "y"}}
	v := NewBuildVerifier(runner)

	if _, err := v.Run(context.Background(), "/work"); !errors.Is(err, errors.ErrCommandBlocked) {
		t.Errorf("Run = %v, want ErrCommandBlocked", err)
	}
}

// -----------------------------------------------------------------------------
// Lint stage
// -----------------------------------------------------------------------------

const lintReportJSON = `[
  {
    "filePath": "src/api.ts",
    "messages": [
      {"ruleId": "no-unused-vars", "severity": 2, "message": "'x' is defined but never used.", "line": 4, "column": 7},
      {"ruleId": "prefer-const", "severity": 1, "message": "'y' is never reassigned.", "line": 9, "column": 3}
    ]
  },
  {"filePath": "src/util.ts", "messages": []}
]`

func TestLintRunSeverityMapping(t *testing.T) {
	runner := &fakeRunner{err: &errors.ProcessError{Command: "lint", ExitCode: 1, Stdout: lintReportJSON}}
	v := NewLintVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Error("lint with errors reported success")
	}
	if len(res.Errors) != 1 || len(res.Warnings) != 1 {
		t.Fatalf("errors = %d, warnings = %d, want 1 and 1", len(res.Errors), len(res.Warnings))
	}
	if e := res.Errors[0]; e.Code != "no-unused-vars" || e.Line != 4 || e.Column != 7 {
		t.Errorf("error = %+v", e)
	}
	if w := res.Warnings[0]; w.Code != "prefer-const" {
		t.Errorf("warning = %+v", w)
	}
}

func TestLintRunCleanReport(t *testing.T) {
	runner := &fakeRunner{result: &procrun.Result{Stdout: `[{"filePath": "src/api.ts", "messages": []}]`}}
	v := NewLintVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v, want success", res)
	}
}

func TestLintRunWarningsOnlyIsSuccess(t *testing.T) {
	report := `[{"filePath": "a.ts", "messages": [{"ruleId": "prefer-const", "severity": 1, "message": "w", "line": 1, "column": 1}]}]`
	runner := &fakeRunner{result: &procrun.Result{Stdout: report}}
	v := NewLintVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || len(res.Warnings) != 1 {
		t.Errorf("result = %+v, want success with one warning", res)
	}
}

func TestLintRunNoConfiguration(t *testing.T) {
	runner := &fakeRunner{err: &errors.ProcessError{
		Command: "lint", ExitCode: 2,
		Stderr: "ESLint couldn't find a configuration file.",
	}}
	v := NewLintVerifier(runner)

	if _, err := v.Run(context.Background(), "/work"); !errors.Is(err, errors.ErrLintConfig) {
		t.Errorf("Run = %v, want ErrLintConfig", err)
	}
}

func TestLintRunTimeout(t *testing.T) {
	runner := &fakeRunner{err: &errors.TimeoutError{
		ProcessError: errors.ProcessError{Command: "lint"},
		Timeout:      time.Second,
	}}
	v := NewLintVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if res != nil {
		t.Errorf("result = %+v, want nil on timeout", res)
	}
	if !errors.Is(err, errors.ErrProcessTimeout) {
		t.Fatalf("Run = %v, want ErrProcessTimeout", err)
	}
	if errors.Is(err, errors.ErrLintConfig) {
		t.Errorf("timeout misreported as missing configuration: %v", err)
	}
}

func TestLintFixUsesFixCommand(t *testing.T) {
	runner := &fakeRunner{result: &procrun.Result{Stdout: "[]"}}
	v := NewLintVerifier(runner, WithLintFixCommand("eslint . --fix -f json"))

	if _, err := v.Fix(context.Background(), "/work"); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if runner.lastCommand != "eslint . --fix -f json" {
		t.Errorf("command = %q", runner.lastCommand)
	}
}

// -----------------------------------------------------------------------------
// Test stage
// -----------------------------------------------------------------------------

const testReportJSON = `{
  "numTotalTests": 5,
  "numPassedTests": 3,
  "numFailedTests": 1,
  "numPendingTests": 1,
  "testResults": [
    {
      "name": "src/api.test.ts",
      "assertionResults": [
        {"title": "creates a record", "status": "passed", "failureMessages": []},
        {"title": "rejects duplicates", "status": "failed", "failureMessages": ["expected 409, got 200\n  at api.test.ts:40"]}
      ]
    }
  ],
  "coverageSummary": {"total": {"lines": {"pct": 81.5}}}
}`

func TestTestRunMapsReport(t *testing.T) {
	runner := &fakeRunner{err: &errors.ProcessError{Command: "test", ExitCode: 1, Stdout: testReportJSON}}
	v := NewTestVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Error("failing suite reported success")
	}
	if res.Total != 5 || res.Passed != 3 || res.Failed != 1 || res.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d/%d", res.Total, res.Passed, res.Failed, res.Skipped)
	}
	if res.Coverage != 81.5 {
		t.Errorf("coverage = %v, want 81.5", res.Coverage)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(res.Failures))
	}
	f := res.Failures[0]
	if f.TestName != "rejects duplicates" || f.File != "src/api.test.ts" {
		t.Errorf("failure = %+v", f)
	}
	if f.Message != "expected 409, got 200" {
		t.Errorf("message = %q", f.Message)
	}
	if len(res.Errors) != 1 {
		t.Errorf("verification errors = %d, want 1", len(res.Errors))
	}
}

func TestTestRunPassingSuite(t *testing.T) {
	report := `{"numTotalTests": 2, "numPassedTests": 2, "numFailedTests": 0, "numPendingTests": 0, "testResults": []}`
	runner := &fakeRunner{result: &procrun.Result{Stdout: report}}
	v := NewTestVerifier(runner)

	res, err := v.Run(context.Background(), "/work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Passed != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestTestRunTimeout(t *testing.T) {
	runner := &fakeRunner{err: &errors.TimeoutError{
		ProcessError: errors.ProcessError{Command: "test"},
		Timeout:      time.Second,
	}}
	v := NewTestVerifier(runner, WithTestTimeout(90*time.Second))

	_, err := v.Run(context.Background(), "/work")
	if !errors.Is(err, errors.ErrTestTimeout) {
		t.Fatalf("Run = %v, want ErrTestTimeout", err)
	}
	var toErr *errors.TestTimeoutError
	if !errors.As(err, &toErr) || toErr.Timeout != 90*time.Second {
		t.Errorf("error = %#v, want configured timeout", err)
	}
}

func TestTestRunDefaultTimeout(t *testing.T) {
	runner := &fakeRunner{result: &procrun.Result{Stdout: `{"numTotalTests": 0}`}}
	v := NewTestVerifier(runner)

	if _, err := v.Run(context.Background(), "/work"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.lastOpts.Timeout != DefaultTestTimeout {
		t.Errorf("timeout = %v, want %v", runner.lastOpts.Timeout, DefaultTestTimeout)
	}
}

// -----------------------------------------------------------------------------
// Review stage
// -----------------------------------------------------------------------------

// scriptedReviewer returns a fixed result.
type scriptedReviewer struct {
	result *ReviewResult
	err    error
}

func (s *scriptedReviewer) Review(ctx context.Context, workdir string, files []string) (*ReviewResult, error) {
	return s.result, s.err
}

func TestReviewRunNormalizesVerdict(t *testing.T) {
	tests := []struct {
		name         string
		issues       []ReviewIssue
		wantApproved bool
		wantBlocking bool
	}{
		{"no issues", nil, true, false},
		{"suggestions only", []ReviewIssue{{Severity: SeveritySuggestion, Message: "s"}}, true, false},
		{"minor only", []ReviewIssue{{Severity: SeverityMinor, Message: "m"}}, true, false},
		{"major blocks", []ReviewIssue{{Severity: SeverityMajor, Message: "m"}}, false, true},
		{"critical blocks", []ReviewIssue{{Severity: SeverityCritical, Message: "c"}}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The backend's own verdict is ignored; severities decide.
			backend := &scriptedReviewer{result: &ReviewResult{Approved: false, Issues: tt.issues}}
			v := NewReviewVerifier(backend)

			res, err := v.Run(context.Background(), "/work", []string{"a.ts"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Approved != tt.wantApproved || res.HasBlockingIssues != tt.wantBlocking {
				t.Errorf("approved = %v, blocking = %v, want %v and %v",
					res.Approved, res.HasBlockingIssues, tt.wantApproved, tt.wantBlocking)
			}
		})
	}
}

func TestRuleBasedReviewer(t *testing.T) {
	dir := t.TempDir()
	writeFile := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	writeFile("clean.ts", "export const x = 1;\n")
	writeFile("todo.ts", "// TODO: handle errors\nexport const y = 2;\n")
	writeFile("conflict.ts", "<<<<<<< HEAD\nconst z = 3;\n")
	writeFile("debug.ts", "console.log('here');\n")

	r := &RuleBasedReviewer{}
	res, err := r.Review(context.Background(), dir, []string{"clean.ts", "todo.ts", "conflict.ts", "debug.ts"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}

	bySeverity := make(map[IssueSeverity]int)
	for _, issue := range res.Issues {
		bySeverity[issue.Severity]++
	}
	if bySeverity[SeverityCritical] != 1 {
		t.Errorf("critical = %d, want 1 for the conflict marker", bySeverity[SeverityCritical])
	}
	if bySeverity[SeverityMinor] != 2 {
		t.Errorf("minor = %d, want 2 for TODO and debug print", bySeverity[SeverityMinor])
	}
}

func TestRuleBasedReviewerMissingFile(t *testing.T) {
	r := &RuleBasedReviewer{}
	res, err := r.Review(context.Background(), t.TempDir(), []string{"gone.ts"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(res.Issues) != 1 || res.Issues[0].Severity != SeverityMajor {
		t.Errorf("issues = %+v, want one major for the unreadable file", res.Issues)
	}
}
