// Package watcher implements the FileWatcher component of spec.md §4.10:
// a per-project recursive directory observer, built on fsnotify the same
// way ihavespoons-zrok/internal/semantic/indexer.go's Watch method is,
// generalized to watch many projects at once onto one shared bounded
// event channel instead of one watcher goroutine per indexer instance.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/diffsec/knowsync/internal/debounce"
)

// ignoredDirs mirrors spec.md §4.10's directory-component denylist.
var ignoredDirs = map[string]bool{
	"node_modules":    true,
	"__pycache__":     true,
	".git":            true,
	"dist":            true,
	"build":           true,
	".next":           true,
	".nuxt":           true,
	"venv":            true,
	"env":             true,
	".venv":           true,
	".pytest_cache":   true,
	"coverage":        true,
	".mypy_cache":     true,
	".idea":           true,
	".vscode":         true,
}

// ignoredSuffixes mirrors spec.md §4.10's suffix denylist.
var ignoredSuffixes = []string{
	".pyc", ".pyo", ".swp", ".DS_Store", ".log", ".tmp", ".temp",
}

func shouldIgnorePath(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if ignoredDirs[part] {
			return true
		}
	}
	name := filepath.Base(path)
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Config bounds the shared event channel.
type Config struct {
	EventBufferSize int
}

var DefaultConfig = Config{EventBufferSize: 1024}

func (c Config) withDefaults() Config {
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = DefaultConfig.EventBufferSize
	}
	return c
}

// watch tracks one project's fsnotify.Watcher.
type watch struct {
	fsw *fsnotify.Watcher
}

// FileWatcher observes many projects' directory trees and forwards
// surviving events onto a single shared, bounded channel.
type FileWatcher struct {
	cfg    Config
	events chan debounce.FileEvent

	mu      sync.Mutex
	watches map[string]*watch // projectID -> active watch
	wg      sync.WaitGroup
}

// New builds a FileWatcher. Events reads from the returned channel.
func New(cfg Config) *FileWatcher {
	cfg = cfg.withDefaults()
	return &FileWatcher{
		cfg:     cfg,
		events:  make(chan debounce.FileEvent, cfg.EventBufferSize),
		watches: make(map[string]*watch),
	}
}

// Events returns the shared channel that surviving events are delivered
// onto. It is never closed while the FileWatcher is in use; callers
// should select on ctx.Done() alongside reads from it.
func (w *FileWatcher) Events() <-chan debounce.FileEvent {
	return w.events
}

// IsWatching reports whether projectID currently has an active observer.
func (w *FileWatcher) IsWatching(projectID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[projectID]
	return ok
}

// WatchCount returns the number of projects currently being watched.
func (w *FileWatcher) WatchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// StartWatching begins observing root recursively for projectID.
// Idempotent: calling it again for a project already being watched is a
// no-op that returns nil.
func (w *FileWatcher) StartWatching(ctx context.Context, projectID, root string) error {
	w.mu.Lock()
	if _, ok := w.watches[projectID]; ok {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create watcher for project %s: %w", projectID, err)
	}
	w.watches[projectID] = &watch{fsw: fsw}
	w.mu.Unlock()

	if err := addWatchDirs(fsw, root); err != nil {
		w.StopWatching(projectID)
		return fmt.Errorf("add watch directories for project %s: %w", projectID, err)
	}

	w.wg.Add(1)
	go w.run(ctx, projectID, fsw)
	return nil
}

func addWatchDirs(fsw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if path != root && (strings.HasPrefix(name, ".") || ignoredDirs[name]) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *FileWatcher) run(ctx context.Context, projectID string, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(projectID, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: project %s: %v", projectID, err)
		}
	}
}

func (w *FileWatcher) handle(projectID string, event fsnotify.Event) {
	if shouldIgnorePath(event.Name) {
		return
	}

	var kind debounce.EventKind
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = debounce.Created
	case event.Op&fsnotify.Write != 0:
		kind = debounce.Modified
	case event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0:
		kind = debounce.Deleted
	default:
		return
	}

	fe := debounce.FileEvent{
		Kind:      kind,
		ProjectID: projectID,
		FilePath:  event.Name,
		Timestamp: now(),
	}

	select {
	case w.events <- fe:
	default:
		log.Printf("watcher: event channel full, dropping event for project %s path %s", projectID, event.Name)
	}
}

// now is overridable in tests via a package-level var to avoid a direct
// time.Now() call inside handle (kept as a var, not a field, since
// handle has no receiver-local clock to inject without plumbing through
// every call site).
var now = func() time.Time { return time.Now() }

// StopWatching tears down projectID's observer and unregisters it. Safe
// to call on a project that isn't being watched.
func (w *FileWatcher) StopWatching(projectID string) {
	w.mu.Lock()
	wa, ok := w.watches[projectID]
	if ok {
		delete(w.watches, projectID)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	_ = wa.fsw.Close()
}

// StopAll tears down every active observer and waits for their goroutines
// to exit.
func (w *FileWatcher) StopAll() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.watches))
	for id := range w.watches {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.StopWatching(id)
	}
	w.wg.Wait()
}
