// Package worker implements the Worker lifecycle supervisor of spec.md
// §4.14: it wires the FileWatcher, Debouncer, SyncQueue, and SyncEngine
// together and runs the four concurrent loops that drive real-time and
// periodic sync.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/diffsec/knowsync/internal/debounce"
	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/queue"
	"github.com/diffsec/knowsync/internal/store"
	"github.com/diffsec/knowsync/internal/syncengine"
	"github.com/diffsec/knowsync/internal/watcher"
)

// Config tunes the four loops away from their spec defaults.
type Config struct {
	PollInterval         time.Duration
	PeriodicSyncInterval time.Duration
	HeartbeatInterval    time.Duration
}

// DefaultConfig matches spec.md §4.14.
var DefaultConfig = Config{
	PollInterval:         60 * time.Second,
	PeriodicSyncInterval: time.Hour,
	HeartbeatInterval:    10 * time.Second,
}

func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PeriodicSyncInterval <= 0 {
		c.PeriodicSyncInterval = d.PeriodicSyncInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}

// Worker holds references to the store, SyncEngine, FileWatcher,
// Debouncer, and SyncQueue, and supervises the four loops described in
// spec.md §4.14.
type Worker struct {
	Store    store.KnowledgeStore
	Registry *project.Registry
	Engine   *syncengine.Engine
	Watcher  *watcher.FileWatcher
	Queue    *queue.SyncQueue

	debouncer *debounce.Debouncer
	cfg       Config
	now       func() time.Time

	mu            sync.Mutex
	running       bool
	lastHeartbeat time.Time
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New builds a Worker. Its Debouncer is constructed internally (rather
// than injected) so its flush callback can close over the Worker's own
// SyncQueue.
func New(st store.KnowledgeStore, reg *project.Registry, engine *syncengine.Engine, fw *watcher.FileWatcher, sq *queue.SyncQueue, cfg Config) *Worker {
	w := &Worker{
		Store:    st,
		Registry: reg,
		Engine:   engine,
		Watcher:  fw,
		Queue:    sq,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
	w.debouncer = debounce.New(debounce.DefaultConfig, w.onFlush)
	return w
}

// Start is idempotent: calling it while already running is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.ctx = runCtx
	w.cancel = cancel
	w.running = true
	w.lastHeartbeat = w.now()
	w.debouncer = debounce.New(debounce.DefaultConfig, w.onFlush)
	w.mu.Unlock()

	w.discoverOnce(runCtx)

	w.wg.Add(4)
	go w.projectDiscoveryLoop(runCtx)
	go w.eventConsumeLoop(runCtx)
	go w.periodicSyncLoop(runCtx)
	go w.heartbeatLoop(runCtx)
	return nil
}

// Stop cancels the four loops, waits for them to exit, then tears down
// the FileWatcher, Debouncer, and SyncQueue.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.Watcher.StopAll()
	w.debouncer.Shutdown()
	w.Queue.Shutdown()
}

// IsRunning implements health.Controllable.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastHeartbeat implements health.Controllable.
func (w *Worker) LastHeartbeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHeartbeat
}

// WatchedProjects implements health.Controllable.
func (w *Worker) WatchedProjects() int {
	return w.Watcher.WatchCount()
}

// PendingEvents implements health.Controllable.
func (w *Worker) PendingEvents() int {
	return len(w.Watcher.Events())
}

// syncFn adapts SyncEngine.SyncProject to queue.SyncFunc's error-only
// shape; SyncStats are discarded here, the same way the Open Question
// resolution documented in DESIGN.md treats per-file errors as already
// captured inside SyncStats.Errors without aborting the job.
func (w *Worker) syncFn(ctx context.Context, projectID string, files []string) error {
	_, err := w.Engine.SyncProject(ctx, projectID, files)
	return err
}

// onFlush is the Debouncer's registered callback: enqueue an auto-
// priority job for the flushed batch, then make one non-blocking
// attempt to run it immediately.
func (w *Worker) onFlush(projectID string, events []debounce.FileEvent) {
	files := make([]string, 0, len(events))
	for _, e := range events {
		files = append(files, e.FilePath)
	}
	w.Queue.Enqueue(projectID, files, queue.PriorityAuto)
	w.tryExecute(projectID)
}

func (w *Worker) tryExecute(projectID string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		return
	}
	w.Queue.ExecuteNext(ctx, projectID, w.syncFn)
}

// projectDiscoveryLoop is loop 1 of spec.md §4.14.
func (w *Worker) projectDiscoveryLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.discoverOnce(ctx)
		}
	}
}

func (w *Worker) discoverOnce(ctx context.Context) {
	for _, p := range w.Registry.List() {
		if !p.AutoSyncEnabled || p.SyncMode != project.SyncModeRealtime {
			if w.Watcher.IsWatching(p.ID) {
				w.Watcher.StopWatching(p.ID)
			}
			continue
		}
		if !w.Watcher.IsWatching(p.ID) {
			_ = w.Watcher.StartWatching(ctx, p.ID, p.LocalPath)
		}
	}
}

// eventConsumeLoop is loop 2 of spec.md §4.14.
func (w *Worker) eventConsumeLoop(ctx context.Context) {
	defer w.wg.Done()
	events := w.Watcher.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			w.debouncer.Add(e)
		}
	}
}

// periodicSyncLoop is loop 3 of spec.md §4.14.
func (w *Worker) periodicSyncLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PeriodicSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.periodicSyncOnce()
		}
	}
}

func (w *Worker) periodicSyncOnce() {
	now := w.now()
	for _, p := range w.Registry.List() {
		if !p.AutoSyncEnabled || p.SyncMode != project.SyncModePeriodic {
			continue
		}
		if p.LastAutoSyncAt != nil && now.Sub(*p.LastAutoSyncAt) < w.cfg.PeriodicSyncInterval {
			continue
		}
		projectID := p.ID
		w.Queue.Enqueue(projectID, nil, queue.PriorityAuto)
		_ = w.Registry.Update(projectID, func(pr *project.Project) {
			t := now
			pr.LastAutoSyncAt = &t
		})
		w.tryExecute(projectID)
	}
}

// heartbeatLoop is loop 4 of spec.md §4.14. It also makes a best-effort
// retry pass over queued projects, since SyncQueue.ExecuteNext's
// non-blocking semaphore acquisition (see DESIGN.md) can leave a job
// queued if the global concurrency cap was momentarily exhausted.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			w.lastHeartbeat = w.now()
			w.mu.Unlock()

			for _, p := range w.Registry.List() {
				if w.Queue.Pending(p.ID) > 0 {
					w.tryExecute(p.ID)
				}
			}
		}
	}
}
