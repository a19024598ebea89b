package qa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maestro-cli/maestro/internal/logging"
)

// Reviewer is the pluggable review backend. The production backend is an
// AI collaborator; RuleBasedReviewer covers environments without one.
type Reviewer interface {
	Review(ctx context.Context, workdir string, files []string) (*ReviewResult, error)
}

// ReviewVerifier runs the review stage through an injected backend and
// derives the blocking verdict from issue severities.
type ReviewVerifier struct {
	reviewer Reviewer
	logger   *logging.Logger
}

// ReviewOption configures a ReviewVerifier.
type ReviewOption func(*ReviewVerifier)

// WithReviewLogger sets the logger.
func WithReviewLogger(logger *logging.Logger) ReviewOption {
	return func(v *ReviewVerifier) { v.logger = logger }
}

// NewReviewVerifier creates a ReviewVerifier over the given backend.
func NewReviewVerifier(reviewer Reviewer, opts ...ReviewOption) *ReviewVerifier {
	v := &ReviewVerifier{
		reviewer: reviewer,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run reviews the changed files in workdir. The verdict is normalized:
// blocking iff any issue is critical or major, approved iff nothing
// blocks.
func (v *ReviewVerifier) Run(ctx context.Context, workdir string, files []string) (*ReviewResult, error) {
	start := time.Now()
	result, err := v.reviewer.Review(ctx, workdir, files)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	result.HasBlockingIssues = false
	for _, issue := range result.Issues {
		if issue.Severity.IsBlocking() {
			result.HasBlockingIssues = true
			break
		}
	}
	result.Approved = !result.HasBlockingIssues

	v.logger.Debug("review finished",
		"issues", len(result.Issues),
		"approved", result.Approved,
	)
	return result, nil
}

// RuleBasedReviewer flags mechanical problems in changed files: leftover
// merge conflict markers (blocking), TODO/FIXME markers, and debug print
// statements.
type RuleBasedReviewer struct{}

// debugPrints lists call fragments that indicate leftover debug output.
var debugPrints = []string{
	"console.log(",
	"console.debug(",
	"fmt.Println(",
	"print(",
	"dbg!(",
}

// Review scans each file line by line.
func (r *RuleBasedReviewer) Review(ctx context.Context, workdir string, files []string) (*ReviewResult, error) {
	result := &ReviewResult{}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(workdir, file))
		if err != nil {
			result.Issues = append(result.Issues, ReviewIssue{
				Severity: SeverityMajor,
				File:     file,
				Message:  fmt.Sprintf("changed file could not be read: %v", err),
			})
			continue
		}

		for i, line := range strings.Split(string(data), "\n") {
			lineNo := i + 1
			switch {
			case strings.HasPrefix(line, "<<<<<<<") || strings.HasPrefix(line, ">>>>>>>"):
				result.Issues = append(result.Issues, ReviewIssue{
					Severity: SeverityCritical,
					File:     file,
					Line:     lineNo,
					Message:  "unresolved merge conflict marker",
				})
			case strings.Contains(line, "TODO") || strings.Contains(line, "FIXME"):
				result.Issues = append(result.Issues, ReviewIssue{
					Severity:   SeverityMinor,
					File:       file,
					Line:       lineNo,
					Message:    "unfinished work marker left in change",
					Suggestion: "resolve the marker or file a follow-up task",
				})
			case containsDebugPrint(line):
				result.Issues = append(result.Issues, ReviewIssue{
					Severity:   SeverityMinor,
					File:       file,
					Line:       lineNo,
					Message:    "debug print statement left in change",
					Suggestion: "remove the statement or route it through the logger",
				})
			}
		}
	}

	result.Summary = fmt.Sprintf("rule-based review of %d file(s): %d issue(s)", len(files), len(result.Issues))
	return result, nil
}

func containsDebugPrint(line string) bool {
	for _, p := range debugPrints {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

var _ Reviewer = (*RuleBasedReviewer)(nil)
