package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-cli/maestro/internal/config"
	"github.com/maestro-cli/maestro/internal/procrun"
	"github.com/maestro-cli/maestro/internal/worktree"
)

var (
	cleanupMaxAge time.Duration
	cleanupDryRun bool
	cleanupForce  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim worktrees that have gone stale",
	Long: `Cleanup removes worktrees whose last activity is older than the age
threshold. Worktrees with uncommitted changes are kept unless --force is
given. Branches are always retained.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0,
		"minimum age before a worktree is reclaimed (default: from config)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false,
		"report what would be removed without removing anything")
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false,
		"remove worktrees even when they have uncommitted changes")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
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

	runner := procrun.NewRunner(procrun.WithLogger(logger))
	git, err := worktree.NewCLIGit(cmd.Context(), repoDir, runner)
	if err != nil {
		return err
	}
	manager := worktree.NewManager(cfg.Worktree.ResolveRoot(repoDir), git,
		worktree.WithLogger(logger),
		worktree.WithThresholds(cfg.Worktree.ActiveThreshold(), cfg.Worktree.StaleThreshold()),
	)

	maxAge := cleanupMaxAge
	if maxAge <= 0 {
		maxAge = cfg.Worktree.CleanupMaxAge()
	}

	report, err := manager.Cleanup(cmd.Context(), worktree.CleanupOptions{
		MaxAge: maxAge,
		DryRun: cleanupDryRun,
		Force:  cleanupForce,
	})
	if err != nil {
		return err
	}

	verb := "removed"
	if cleanupDryRun {
		verb = "would remove"
	}
	for _, taskID := range report.Removed {
		cmd.Printf("%s %s\n", verb, taskID)
	}
	for _, taskID := range report.Failed {
		cmd.Printf("kept %s (removal failed or uncommitted changes)\n", taskID)
	}
	cmd.Printf("%s %d worktree(s), kept %d, skipped %d\n",
		verb, len(report.Removed), len(report.Failed), len(report.Skipped))
	return nil
}
