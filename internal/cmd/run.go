package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-cli/maestro/internal/bridge"
	"github.com/maestro-cli/maestro/internal/config"
	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/event"
	"github.com/maestro-cli/maestro/internal/logging"
	"github.com/maestro-cli/maestro/internal/plan"
	"github.com/maestro-cli/maestro/internal/procrun"
	"github.com/maestro-cli/maestro/internal/qa"
	"github.com/maestro-cli/maestro/internal/scheduler"
	"github.com/maestro-cli/maestro/internal/taskqueue"
	"github.com/maestro-cli/maestro/internal/worktree"
)

var runAgents int

// claimPollInterval is how long an idle agent waits before rechecking
// the queue when every claimable task is held by another agent.
const claimPollInterval = 200 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run <plan.json>",
	Short: "Execute a task plan",
	Long: `Run executes every task in the plan, wave by wave. Each task gets an
isolated worktree and must pass the verification loop before it counts
as completed. Tasks a permanent failure makes unreachable are failed so
the run always terminates.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	runCmd.Flags().IntVar(&runAgents, "agents", 2, "number of concurrent agents")
	rootCmd.AddCommand(runCmd)
}

// executor bundles the wired components one run shares across agents.
type executor struct {
	cfg      *config.Config
	bus      *event.Bus
	logger   *logging.Logger
	runner   *procrun.Runner
	git      worktree.GitOperations
	manager  *worktree.Manager
	agents   *bridge.Bridge
	queue    *taskqueue.EventQueue
	stateDir string
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runAgents < 1 {
		return fmt.Errorf("--agents must be at least 1, got %d", runAgents)
	}

	p, err := loadPlanFile(args[0])
	if err != nil {
		return err
	}
	if err := plan.Validate(p); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	repoDir, err := workingDir()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus()
	runner := procrun.NewRunner(
		procrun.WithLogger(logger),
		procrun.WithDefaultTimeout(cfg.Runner.Timeout()),
		procrun.WithDenyPatterns(cfg.Runner.DenyPatterns...),
	)

	git, err := worktree.NewCLIGit(ctx, repoDir, runner)
	if err != nil {
		return err
	}
	worktreeRoot := cfg.Worktree.ResolveRoot(repoDir)
	manager := worktree.NewManager(worktreeRoot, git,
		worktree.WithBus(bus),
		worktree.WithLogger(logger),
		worktree.WithBranchPrefix(cfg.Worktree.BranchPrefix),
		worktree.WithThresholds(cfg.Worktree.ActiveThreshold(), cfg.Worktree.StaleThreshold()),
	)

	// Surface registry edits made by other processes (a concurrent
	// cleanup, for example) as bus events while the run is live. The
	// watcher needs the root to exist before the first registry save.
	if err := os.MkdirAll(worktreeRoot, 0755); err != nil {
		return err
	}
	watcher, err := worktree.NewRegistryWatcher(worktreeRoot, bus)
	if err != nil {
		logger.Warn("registry watcher unavailable", "error", err.Error())
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	queue := taskqueue.NewFromPlan(p)
	for _, id := range p.TaskIDs() {
		_ = queue.SetMaxRetries(id, cfg.Queue.MaxRetries)
	}

	ex := &executor{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		runner:   runner,
		git:      git,
		manager:  manager,
		agents:   bridge.New(manager, bridge.WithLogger(logger)),
		queue:    taskqueue.NewEventQueue(queue, bus),
		stateDir: cfg.Queue.ResolveStateDir(repoDir),
	}

	sched := scheduler.New(bus, scheduler.WithLogger(logger))
	defer sched.Close()

	handle, err := sched.SubmitPlan(p)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	unsubPlan, err := handle.OnPlanComplete(func(completed, failed int) {
		cmd.Printf("plan complete: %d succeeded, %d failed\n", completed, failed)
		close(done)
	})
	if err != nil {
		return err
	}
	defer unsubPlan()

	unsubWave, err := handle.OnWaveComplete(func(waveID, completed, failed int) {
		cmd.Printf("wave %d complete: %d succeeded, %d failed\n", waveID, completed, failed)
	})
	if err != nil {
		return err
	}
	defer unsubWave()

	cmd.Printf("running %d task(s) in %d wave(s) with %d agent(s)\n",
		p.TotalTasks(), len(p.Waves), runAgents)

	var wg sync.WaitGroup
	for i := 0; i < runAgents; i++ {
		agentID := fmt.Sprintf("agent-%d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex.agentLoop(ctx, agentID)
		}()
	}

	select {
	case <-done:
	case <-ctx.Done():
		cmd.Println("interrupted, aborting plan")
		_ = handle.Abort()
	}
	wg.Wait()

	if err := ex.queue.SaveState(ex.stateDir); err != nil {
		logger.Warn("saving queue state failed", "error", err.Error())
	}

	status := ex.queue.Status()
	cmd.Printf("done: %d completed, %d failed, %d total\n",
		status.Completed, status.Failed, status.Total)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if status.Failed > 0 {
		return fmt.Errorf("%d task(s) failed", status.Failed)
	}
	return nil
}

// agentLoop claims and executes tasks until the queue drains or the run
// is cancelled.
func (ex *executor) agentLoop(ctx context.Context, agentID string) {
	log := ex.logger.WithAgent(agentID)

	for {
		if ctx.Err() != nil || ex.queue.IsComplete() {
			return
		}

		task, err := ex.queue.ClaimNext(agentID)
		if err != nil {
			log.Error("claim failed", "error", err.Error())
			return
		}
		if task == nil {
			// Nothing claimable right now: other agents hold the tasks
			// gating the rest of the plan.
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimPollInterval):
			}
			continue
		}

		ex.executeTask(ctx, agentID, task)
		if err := ex.queue.SaveState(ex.stateDir); err != nil {
			log.Warn("saving queue state failed", "error", err.Error())
		}
	}
}

// executeTask runs one claimed task: worktree assignment, the QA loop,
// and the terminal queue transition.
func (ex *executor) executeTask(ctx context.Context, agentID string, task *taskqueue.QueuedTask) {
	log := ex.logger.WithAgent(agentID).WithTask(task.ID)

	wt, err := ex.acquireWorktree(ctx, agentID, task.ID)
	if err != nil {
		log.Error("worktree assignment failed", "error", err.Error())
		_ = ex.queue.Fail(task.ID, "worktree assignment failed: "+err.Error(), 0, false)
		return
	}
	defer func() { _ = ex.agents.ReleaseWorktree(ctx, agentID) }()

	if err := ex.queue.MarkRunning(task.ID); err != nil {
		log.Error("marking task running failed", "error", err.Error())
		return
	}

	loop := qa.NewLoop(
		qa.NewBuildVerifier(ex.runner, qa.WithBuildCommand(ex.cfg.QA.BuildCommand), qa.WithBuildLogger(log)),
		qa.NewLintVerifier(ex.runner, qa.WithLintCommand(ex.cfg.QA.LintCommand), qa.WithLintLogger(log)),
		qa.NewTestVerifier(ex.runner,
			qa.WithTestCommand(ex.cfg.QA.TestCommand),
			qa.WithTestTimeout(ex.cfg.QA.TestTimeout()),
			qa.WithTestLogger(log),
		),
		qa.NewReviewVerifier(&qa.RuleBasedReviewer{}, qa.WithReviewLogger(log)),
		qa.WithBus(ex.bus),
		qa.WithLoopLogger(log),
		qa.WithMaxIterations(ex.cfg.QA.MaxIterations),
	)

	// The review stage inspects the task's actual change set.
	files, filesErr := ex.git.ChangedFiles(ctx, wt.Path, wt.BaseBranch)
	if filesErr != nil {
		log.Warn("listing changed files failed", "error", filesErr.Error())
	}

	result, err := loop.Run(ctx, task.ID, wt.Path, files)
	if err != nil {
		_ = ex.queue.Fail(task.ID, err.Error(), 0, false)
		return
	}

	_ = ex.manager.UpdateActivity(task.ID)

	if result.Success {
		_, _ = ex.queue.Complete(task.ID, agentID, "verification passed")
		return
	}
	_ = ex.queue.Fail(task.ID,
		strings.Join(result.FinalErrors, "; "),
		result.Iterations,
		result.Escalated,
	)
}

// acquireWorktree assigns a worktree to the agent, reusing the worktree
// left behind by an earlier attempt when the task is being retried.
func (ex *executor) acquireWorktree(ctx context.Context, agentID, taskID string) (*worktree.Info, error) {
	info, err := ex.agents.AssignWorktree(ctx, agentID, taskID, ex.cfg.Worktree.BaseBranch)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, errors.ErrWorktreeExists) {
		return nil, err
	}

	existing, getErr := ex.manager.GetWorktree(taskID)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

// loadPlanFile reads and decodes a plan from a JSON file.
func loadPlanFile(path string) (*plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return &p, nil
}
