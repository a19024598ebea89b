package cmd

import (
	"github.com/spf13/cobra"

	"github.com/maestro-cli/maestro/internal/config"
	"github.com/maestro-cli/maestro/internal/taskqueue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved state of the last run",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	repoDir, err := workingDir()
	if err != nil {
		return err
	}

	queue, err := taskqueue.LoadState(cfg.Queue.ResolveStateDir(repoDir))
	if err != nil {
		cmd.Println("no saved run state")
		return nil
	}

	s := queue.Status()
	cmd.Printf("tasks: %d total\n", s.Total)
	cmd.Printf("  pending:   %d\n", s.Pending)
	cmd.Printf("  claimed:   %d\n", s.Claimed)
	cmd.Printf("  running:   %d\n", s.Running)
	cmd.Printf("  completed: %d\n", s.Completed)
	cmd.Printf("  failed:    %d\n", s.Failed)
	if queue.IsComplete() {
		cmd.Println("run complete")
	}
	return nil
}
