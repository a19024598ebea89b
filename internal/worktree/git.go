package worktree

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/procrun"
)

// GitOperations abstracts the git CLI operations the manager needs.
// The abstraction enables fake implementations for testing without real
// git repositories.
type GitOperations interface {
	// AddWorktree creates a worktree at path with a new branch created
	// from baseBranch.
	AddWorktree(ctx context.Context, path, branch, baseBranch string) error

	// RemoveWorktree removes the worktree at path. With force set,
	// removal proceeds even when the working copy has local changes.
	RemoveWorktree(ctx context.Context, path string, force bool) error

	// DeleteBranch deletes a branch by name.
	DeleteBranch(ctx context.Context, branch string) error

	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, branch string) (bool, error)

	// HasUncommittedChanges reports whether the working copy at path
	// has local modifications.
	HasUncommittedChanges(ctx context.Context, path string) (bool, error)

	// ChangedFiles lists the files in the working copy at path that
	// differ from baseBranch, including untracked files.
	ChangedFiles(ctx context.Context, path, baseBranch string) ([]string, error)

	// DefaultBranch returns the repository's primary branch, trying
	// main first and falling back to master.
	DefaultBranch(ctx context.Context) (string, error)
}

// CLIGit implements GitOperations by shelling out to the git CLI
// through the process runner. It depends only on git's command-line
// contract: exit codes and stdout text.
type CLIGit struct {
	repoDir string
	runner  *procrun.Runner
}

// Longer than the generic default: worktree creation on large
// repositories checks out a full tree.
const gitTimeout = 2 * time.Minute

// NewCLIGit creates a CLIGit rooted at repoDir. It fails with
// ErrNotGitRepository when repoDir is not inside a git repository.
func NewCLIGit(ctx context.Context, repoDir string, runner *procrun.Runner) (*CLIGit, error) {
	g := &CLIGit{repoDir: repoDir, runner: runner}
	if _, err := g.run(ctx, "git rev-parse --git-dir"); err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrNotGitRepository, repoDir)
	}
	return g, nil
}

// RepoDir returns the repository directory git commands run in.
func (g *CLIGit) RepoDir() string {
	return g.repoDir
}

func (g *CLIGit) run(ctx context.Context, command string) (string, error) {
	return g.runIn(ctx, g.repoDir, command)
}

func (g *CLIGit) runIn(ctx context.Context, dir, command string) (string, error) {
	result, err := g.runner.Run(ctx, command, &procrun.Options{
		Dir:     dir,
		Timeout: gitTimeout,
	})
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// AddWorktree creates a worktree and its branch in one step via
// git worktree add -b.
func (g *CLIGit) AddWorktree(ctx context.Context, path, branch, baseBranch string) error {
	cmd := fmt.Sprintf("git worktree add -b %s %s %s",
		shellQuote(branch), shellQuote(path), shellQuote(baseBranch))
	if _, err := g.run(ctx, cmd); err != nil {
		return fmt.Errorf("git worktree add: %w", err)
	}
	return nil
}

// RemoveWorktree removes the worktree at path and prunes stale
// administrative entries afterward.
func (g *CLIGit) RemoveWorktree(ctx context.Context, path string, force bool) error {
	cmd := "git worktree remove"
	if force {
		cmd += " --force"
	}
	cmd += " " + shellQuote(path)
	if _, err := g.run(ctx, cmd); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}
	_, _ = g.run(ctx, "git worktree prune")
	return nil
}

// DeleteBranch force-deletes a local branch.
func (g *CLIGit) DeleteBranch(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, "git branch -D "+shellQuote(branch)); err != nil {
		return fmt.Errorf("git branch -D: %w", err)
	}
	return nil
}

// BranchExists reports whether a local branch of that name exists.
func (g *CLIGit) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := g.run(ctx, "git rev-parse --verify --quiet "+shellQuote("refs/heads/"+branch))
	if err != nil {
		var procErr *errors.ProcessError
		if errors.As(err, &procErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HasUncommittedChanges reports whether the working copy at path has
// staged or unstaged modifications.
func (g *CLIGit) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	result, err := g.runner.Run(ctx, "git status --porcelain", &procrun.Options{
		Dir:     path,
		Timeout: gitTimeout,
	})
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(result.Stdout) != "", nil
}

// ChangedFiles lists files that differ from baseBranch in the working
// copy at path: committed and uncommitted tracked changes plus
// untracked files.
func (g *CLIGit) ChangedFiles(ctx context.Context, path, baseBranch string) ([]string, error) {
	diff, err := g.runIn(ctx, path, "git diff --name-only "+shellQuote(baseBranch)+" --")
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	untracked, err := g.runIn(ctx, path, "git ls-files --others --exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	seen := make(map[string]struct{})
	var files []string
	for _, line := range strings.Split(diff+"\n"+untracked, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		files = append(files, line)
	}
	return files, nil
}

// DefaultBranch returns the repository's primary branch, trying main
// first and falling back to master.
func (g *CLIGit) DefaultBranch(ctx context.Context) (string, error) {
	for _, candidate := range []string{"main", "master"} {
		ok, err := g.BranchExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no primary branch found: neither main nor master exists")
}

// shellQuote wraps an argument in single quotes for the runner's shell
// invocation, escaping embedded single quotes.
func shellQuote(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

var _ GitOperations = (*CLIGit)(nil)
