package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-cli/maestro/internal/config"
	"github.com/maestro-cli/maestro/internal/worktree"
)

var worktreesCmd = &cobra.Command{
	Use:   "worktrees",
	Short: "List registered task worktrees",
	Args:  cobra.NoArgs,
	RunE:  listWorktrees,
}

func init() {
	rootCmd.AddCommand(worktreesCmd)
}

func listWorktrees(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	repoDir, err := workingDir()
	if err != nil {
		return err
	}

	// Listing only reads the registry, so no git backend is needed.
	manager := worktree.NewManager(cfg.Worktree.ResolveRoot(repoDir), nil,
		worktree.WithThresholds(cfg.Worktree.ActiveThreshold(), cfg.Worktree.StaleThreshold()),
	)

	infos, err := manager.ListWorktrees()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		cmd.Println("no worktrees registered")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tBRANCH\tLAST ACTIVITY")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			info.TaskID, info.Status, info.Branch, formatAge(time.Since(info.LastActivity)))
	}
	return w.Flush()
}

// formatAge renders an activity age compactly: 42s, 12m, 3h, 2d.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
