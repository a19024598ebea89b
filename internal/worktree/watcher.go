package worktree

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maestro-cli/maestro/internal/event"
)

// RegistryWatcher republishes external registry file changes on the
// event bus. Another process mutating the shared registry (a second
// Maestro run, a manual cleanup) shows up as a worktree.registry_changed
// event that UI collaborators can react to.
type RegistryWatcher struct {
	root    string
	bus     *event.Bus
	watcher *fsnotify.Watcher

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistryWatcher creates a watcher for the registry under root.
// Call Start to begin watching and Stop to release the watcher.
func NewRegistryWatcher(root string, bus *event.Bus) (*RegistryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	// Watch the directory, not the file: atomic rename replaces the
	// registry inode, so a watch on the file itself goes dead after the
	// first save.
	if err := watcher.Add(root); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch worktree root: %w", err)
	}

	return &RegistryWatcher{
		root:    root,
		bus:     bus,
		watcher: watcher,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events in a background goroutine.
func (w *RegistryWatcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher and releases its resources. Safe to call
// multiple times.
func (w *RegistryWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

// watchLoop debounces bursts of events per save (write, chmod, rename)
// into a single published notification.
func (w *RegistryWatcher) watchLoop() {
	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	pending := false

	for {
		select {
		case <-w.stopCh:
			return

		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != registryFileName {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounce.Reset(50 * time.Millisecond)

		case <-debounce.C:
			if pending {
				pending = false
				w.bus.PublishFrom("worktree", event.NewRegistryChangedEvent(RegistryPath(w.root)))
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
