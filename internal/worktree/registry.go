package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maestro-cli/maestro/internal/errors"
)

const (
	registryFileName = "registry.json"
	lockFileName     = "registry.lock"
)

// RegistryPath returns the location of the registry document under the
// given worktree root.
func RegistryPath(root string) string {
	return filepath.Join(root, registryFileName)
}

// joinWorktreePath maps a task ID to its working-copy directory. The
// "wt-" prefix keeps task directories from colliding with the registry
// and lock files that share the root.
func joinWorktreePath(root, taskID string) string {
	return filepath.Join(root, "wt-"+taskID)
}

// readRegistry loads the registry document from disk. A missing file
// yields a fresh empty registry; an unparseable or wrong-version file
// fails loudly with *errors.RegistryCorruptError so a damaged index is
// never silently replaced.
func readRegistry(root string) (*Registry, error) {
	path := RegistryPath(root)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{
				Version:     RegistryVersion,
				BaseDir:     root,
				Worktrees:   make(map[string]*Info),
				LastUpdated: time.Now(),
			}, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, &errors.RegistryCorruptError{Path: path, Cause: err}
	}
	if reg.Version > RegistryVersion || reg.Version < 1 {
		return nil, &errors.RegistryCorruptError{
			Path:  path,
			Cause: fmt.Errorf("unsupported registry version %d", reg.Version),
		}
	}
	if reg.Worktrees == nil {
		reg.Worktrees = make(map[string]*Info)
	}
	return &reg, nil
}

// writeRegistry rewrites the whole registry document atomically: data
// is written to a temporary file first, then renamed into place, so the
// registry is never observed half-written.
func writeRegistry(root string, reg *Registry) error {
	reg.LastUpdated = time.Now()

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create worktree root: %w", err)
	}

	target := RegistryPath(root)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
