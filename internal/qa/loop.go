package qa

import (
	"context"
	"fmt"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/event"
	"github.com/maestro-cli/maestro/internal/logging"
)

// DefaultMaxIterations bounds the fix-and-retry cycle.
const DefaultMaxIterations = 3

// Stage interfaces let tests drive the loop with scripted outcomes.
type (
	// BuildStage compiles the work under verification.
	BuildStage interface {
		Run(ctx context.Context, workdir string) (*VerificationResult, error)
	}

	// LintStage statically analyzes the work.
	LintStage interface {
		Run(ctx context.Context, workdir string) (*VerificationResult, error)
	}

	// TestStage runs the test suite.
	TestStage interface {
		Run(ctx context.Context, workdir string) (*TestResult, error)
	}

	// ReviewStage reviews the changed files.
	ReviewStage interface {
		Run(ctx context.Context, workdir string, files []string) (*ReviewResult, error)
	}
)

// Fixer is the automated-fix collaborator invoked between failing
// iterations. Fix generation is external to the loop; an AI agent is the
// production implementation. It reports the tokens it consumed.
type Fixer interface {
	Fix(ctx context.Context, workdir string, errs []VerificationError) (tokensUsed int, err error)
}

// Loop sequences build, lint, test, and review for one task, retrying
// with fixes up to MaxIterations and escalating on exhaustion.
type Loop struct {
	build  BuildStage
	lint   LintStage
	test   TestStage
	review ReviewStage

	fixer         Fixer
	bus           *event.Bus
	logger        *logging.Logger
	maxIterations int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithFixer injects the automated-fix collaborator. Without one, failing
// iterations retry unchanged.
func WithFixer(f Fixer) LoopOption {
	return func(l *Loop) { l.fixer = f }
}

// WithBus sets the event bus QA progress is published to.
func WithBus(bus *event.Bus) LoopOption {
	return func(l *Loop) { l.bus = bus }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *logging.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// NewLoop creates a Loop over the four stages.
func NewLoop(build BuildStage, lint LintStage, test TestStage, review ReviewStage, opts ...LoopOption) *Loop {
	l := &Loop{
		build:         build,
		lint:          lint,
		test:          test,
		review:        review,
		logger:        logging.NopLogger(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// iteration carries one pass's collected outcomes.
type iteration struct {
	stages []StageResult
	errs   []VerificationError
	tokens int
}

// Run drives the loop for one task. Escalation is a normal outcome
// carried on the QAResult, not an error; only infrastructure failures
// (broken tool configuration, a blocked command) return an error.
func (l *Loop) Run(ctx context.Context, taskID, workdir string, changedFiles []string) (*QAResult, error) {
	result := &QAResult{}

	for iter := 1; iter <= l.maxIterations; iter++ {
		l.publish(event.NewQAIterationStartedEvent(taskID, iter, l.maxIterations))
		l.logger.Info("qa iteration started", "task_id", taskID, "iteration", iter)

		pass, err := l.runIteration(ctx, workdir, changedFiles)
		if err != nil {
			return nil, err
		}
		result.Iterations = iter
		result.Stages = pass.stages
		result.TokensUsed += pass.tokens

		var failedStages []string
		for _, s := range pass.stages {
			if !s.Success {
				failedStages = append(failedStages, s.Name)
			}
		}
		passed := len(failedStages) == 0
		l.publish(event.NewQAIterationCompletedEvent(taskID, iter, passed, failedStages))

		if passed {
			result.Success = true
			l.logger.Info("qa loop succeeded", "task_id", taskID, "iterations", iter)
			return result, nil
		}

		result.FinalErrors = errorMessages(pass.errs)
		l.logger.Warn("qa iteration failed",
			"task_id", taskID,
			"iteration", iter,
			"failed_stages", failedStages,
		)

		if iter < l.maxIterations && l.fixer != nil {
			tokens, fixErr := l.fixer.Fix(ctx, workdir, pass.errs)
			result.TokensUsed += tokens
			if fixErr != nil {
				l.logger.Warn("fix pass failed", "task_id", taskID, "error", fixErr.Error())
			}
		}
	}

	result.Escalated = true
	l.publish(event.NewQAEscalationEvent(taskID, result.Iterations, result.FinalErrors))
	l.logger.Error("qa loop escalated",
		"task_id", taskID,
		"iterations", result.Iterations,
	)
	return result, nil
}

// runIteration runs all four stages in order. A failing stage does not
// stop the iteration; later stages still run so the fix pass sees the
// full error set. Infrastructure errors abort immediately.
func (l *Loop) runIteration(ctx context.Context, workdir string, changedFiles []string) (*iteration, error) {
	pass := &iteration{}

	buildRes, err := l.build.Run(ctx, workdir)
	switch {
	case err == nil:
		pass.record("build", buildRes)
	case errors.Is(err, errors.ErrProcessTimeout):
		pass.record("build", timeoutResult("build", err))
	default:
		return nil, err
	}

	lintRes, err := l.lint.Run(ctx, workdir)
	switch {
	case err == nil:
		pass.record("lint", lintRes)
	case errors.Is(err, errors.ErrProcessTimeout):
		pass.record("lint", timeoutResult("lint", err))
	default:
		return nil, err
	}

	testRes, err := l.test.Run(ctx, workdir)
	switch {
	case err == nil:
		pass.record("test", &testRes.VerificationResult)
	case errors.Is(err, errors.ErrTestTimeout):
		// A hung suite is retryable: the fix pass may unhang it.
		pass.record("test", timeoutResult("test", err))
	default:
		return nil, err
	}

	reviewRes, err := l.review.Run(ctx, workdir, changedFiles)
	if err != nil {
		return nil, err
	}
	pass.tokens += reviewRes.TokensUsed
	pass.record("review", reviewToVerification(reviewRes))

	return pass, nil
}

// timeoutResult marks a timed-out stage as a retryable failure carrying
// the timeout as its single error.
func timeoutResult(stage string, err error) *VerificationResult {
	return &VerificationResult{
		Errors: []VerificationError{{Type: stage, Message: err.Error()}},
	}
}

// record appends one stage's outcome to the iteration.
func (p *iteration) record(name string, res *VerificationResult) {
	p.stages = append(p.stages, StageResult{
		Name:     name,
		Success:  res.Success,
		Errors:   len(res.Errors),
		Warnings: len(res.Warnings),
		Duration: res.Duration,
	})
	p.errs = append(p.errs, res.Errors...)
}

// reviewToVerification maps a review verdict onto the uniform shape:
// blocking issues become errors, the rest warnings.
func reviewToVerification(r *ReviewResult) *VerificationResult {
	res := &VerificationResult{Success: r.Approved, Duration: r.Duration}
	for _, issue := range r.Issues {
		ve := VerificationError{
			Type:    "review",
			File:    issue.File,
			Line:    issue.Line,
			Message: issue.Message,
			Code:    string(issue.Severity),
		}
		if issue.Severity.IsBlocking() {
			res.Errors = append(res.Errors, ve)
		} else {
			res.Warnings = append(res.Warnings, ve)
		}
	}
	return res
}

// errorMessages flattens verification errors for the escalation report.
func errorMessages(errs []VerificationError) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.File != "" {
			out = append(out, fmt.Sprintf("[%s] %s:%d %s", e.Type, e.File, e.Line, e.Message))
		} else {
			out = append(out, fmt.Sprintf("[%s] %s", e.Type, e.Message))
		}
	}
	return out
}

func (l *Loop) publish(e event.Event) {
	if l.bus != nil {
		l.bus.PublishFrom("qa", e)
	}
}
