// Package qa implements the quality verification stages and the QA loop
// that gates every task's work. Each stage wraps the process runner to
// invoke one external tool and normalizes its output into a uniform
// error/warning shape; the loop sequences build, lint, test, and review,
// retrying with automated fixes up to a bound and escalating to a human
// on exhaustion.
//
// Expected failure (code that does not build, failing tests, a rejected
// review) is data on the result types. Typed errors are reserved for
// infrastructure problems: missing tool configuration, timeouts, blocked
// commands.
package qa

import "time"

// VerificationError is one diagnostic from a verification tool.
type VerificationError struct {
	Type    string `json:"type"` // "build", "lint", "test", "review"
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"` // Tool-specific diagnostic code or rule ID
}

// VerificationResult is the outcome of one QA stage run.
type VerificationResult struct {
	Success  bool                `json:"success"`
	Errors   []VerificationError `json:"errors,omitempty"`
	Warnings []VerificationError `json:"warnings,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// TestFailure describes a single failing test.
type TestFailure struct {
	TestName string `json:"test_name"`
	File     string `json:"file,omitempty"`
	Message  string `json:"message"`
	Stack    string `json:"stack,omitempty"`
}

// TestResult is the outcome of the test stage: the uniform verification
// shape plus run counts and per-failure detail.
type TestResult struct {
	VerificationResult

	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Failures []TestFailure `json:"failures,omitempty"`
	Coverage float64       `json:"coverage,omitempty"` // Percent, when the runner reports it
}

// IssueSeverity grades a review issue.
type IssueSeverity string

const (
	SeverityCritical   IssueSeverity = "critical"
	SeverityMajor      IssueSeverity = "major"
	SeverityMinor      IssueSeverity = "minor"
	SeveritySuggestion IssueSeverity = "suggestion"
)

// IsValid returns true if the severity is a recognized value.
func (s IssueSeverity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeveritySuggestion:
		return true
	}
	return false
}

// IsBlocking returns true for severities that must block approval.
func (s IssueSeverity) IsBlocking() bool {
	return s == SeverityCritical || s == SeverityMajor
}

// ReviewIssue is a single finding from the review stage.
type ReviewIssue struct {
	Severity   IssueSeverity `json:"severity"`
	File       string        `json:"file,omitempty"`
	Line       int           `json:"line,omitempty"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// ReviewResult is the outcome of the review stage.
type ReviewResult struct {
	Approved          bool          `json:"approved"`
	HasBlockingIssues bool          `json:"has_blocking_issues"`
	Issues            []ReviewIssue `json:"issues,omitempty"`
	Summary           string        `json:"summary,omitempty"`
	Duration          time.Duration `json:"duration"`
	TokensUsed        int           `json:"tokens_used,omitempty"` // AI-backed reviewers report usage
}

// StageResult summarizes one stage of the loop's final iteration.
type StageResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Errors   int           `json:"errors"`
	Warnings int           `json:"warnings"`
	Duration time.Duration `json:"duration"`
}

// QAResult is the outcome of the full loop for one task.
type QAResult struct {
	Success     bool          `json:"success"`
	Iterations  int           `json:"iterations"`
	Escalated   bool          `json:"escalated"`
	Stages      []StageResult `json:"stages"`
	FinalErrors []string      `json:"final_errors,omitempty"`
	TokensUsed  int           `json:"tokens_used"`
}
