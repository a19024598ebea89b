// Package filelock provides cross-process mutual exclusion using
// flock(2). The worktree registry and the task queue use it to protect
// their state files when multiple Maestro processes share a directory.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Lock is an advisory exclusive lock on a file. The zero value is not
// usable; create one with New.
type Lock struct {
	path string
	file *os.File
}

// New creates a Lock for the given lock file path. The file and its
// parent directory are created on first acquisition.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the exclusive lock, blocking until available.
func (l *Lock) Acquire() error {
	f, err := l.open()
	if err != nil {
		return err
	}
	l.file = f

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		l.file = nil
		return fmt.Errorf("flock: %w", err)
	}
	return nil
}

// TryAcquire attempts to take the lock without blocking.
// Returns true if the lock was acquired, false if it is held elsewhere.
func (l *Lock) TryAcquire() (bool, error) {
	f, err := l.open()
	if err != nil {
		return false, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}

	l.file = f
	return true, nil
}

// Release drops the lock and closes the lock file. Releasing an
// unacquired lock is a no-op.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Lock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}
