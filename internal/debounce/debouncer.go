// Package debounce coalesces bursty per-project file events into a single
// flush, grounded on the debounce-timer pattern in
// ihavespoons-zrok/internal/semantic/indexer.go's Watch loop, generalized
// from one process-wide pending map to one map per project with a
// max-batch-size escape hatch (spec.md §4.9).
package debounce

import (
	"sync"
	"time"
)

// EventKind mirrors watcher.EventKind without importing it, keeping this
// package free of a dependency on the OS-level watcher.
type EventKind string

const (
	Created  EventKind = "created"
	Modified EventKind = "modified"
	Deleted  EventKind = "deleted"
)

// FileEvent is one raw observation from the FileWatcher.
type FileEvent struct {
	Kind      EventKind
	ProjectID string
	FilePath  string
	Timestamp time.Time
}

// Config tunes the Debouncer away from its spec defaults.
type Config struct {
	DebounceInterval time.Duration
	MaxBatchSize     int
}

// DefaultConfig matches spec.md §4.9: 2.0s debounce, batch escape at 50.
var DefaultConfig = Config{DebounceInterval: 2 * time.Second, MaxBatchSize: 50}

func (c Config) withDefaults() Config {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = DefaultConfig.DebounceInterval
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultConfig.MaxBatchSize
	}
	return c
}

// FlushFunc is the callback invoked with a project's coalesced event batch.
type FlushFunc func(projectID string, events []FileEvent)

// Debouncer coalesces events per project, flushing either on a timer or
// when a project's pending set reaches MaxBatchSize.
type Debouncer struct {
	cfg    Config
	onFlush FlushFunc

	mu      sync.Mutex
	pending map[string]map[string]FileEvent // projectID -> filePath -> latest event
	timers  map[string]*time.Timer
	closed  bool
}

// New builds a Debouncer that calls onFlush for every flushed batch.
func New(cfg Config, onFlush FlushFunc) *Debouncer {
	return &Debouncer{
		cfg:     cfg.withDefaults(),
		onFlush: onFlush,
		pending: make(map[string]map[string]FileEvent),
		timers:  make(map[string]*time.Timer),
	}
}

// Add records event, overwriting any prior pending event for the same file
// (spec.md §4.9 step 1), then reschedules or immediately flushes.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return
	}

	bucket, ok := d.pending[event.ProjectID]
	if !ok {
		bucket = make(map[string]FileEvent)
		d.pending[event.ProjectID] = bucket
	}
	bucket[event.FilePath] = event

	if t, ok := d.timers[event.ProjectID]; ok {
		t.Stop()
		delete(d.timers, event.ProjectID)
	}

	if len(bucket) >= d.cfg.MaxBatchSize {
		d.mu.Unlock()
		d.Flush(event.ProjectID)
		return
	}

	projectID := event.ProjectID
	d.timers[projectID] = time.AfterFunc(d.cfg.DebounceInterval, func() {
		d.Flush(projectID)
	})
	d.mu.Unlock()
}

// Flush atomically drains projectID's pending map and invokes onFlush with
// the result, if non-empty. Safe to call manually without racing the timer.
func (d *Debouncer) Flush(projectID string) {
	d.mu.Lock()
	bucket, ok := d.pending[projectID]
	if ok {
		delete(d.pending, projectID)
	}
	if t, ok := d.timers[projectID]; ok {
		t.Stop()
		delete(d.timers, projectID)
	}
	d.mu.Unlock()

	if !ok || len(bucket) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(bucket))
	for _, e := range bucket {
		events = append(events, e)
	}
	d.onFlush(projectID, events)
}

// FlushAll flushes every project with a non-empty pending bucket.
func (d *Debouncer) FlushAll() {
	d.mu.Lock()
	projectIDs := make([]string, 0, len(d.pending))
	for id := range d.pending {
		projectIDs = append(projectIDs, id)
	}
	d.mu.Unlock()

	for _, id := range projectIDs {
		d.Flush(id)
	}
}

// Shutdown cancels all timers and flushes every remaining bucket.
func (d *Debouncer) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.FlushAll()
}
