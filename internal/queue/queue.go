// Package queue implements the SyncQueue component of spec.md §4.11: a
// per-project priority queue (manual jobs ahead of auto jobs) gated by a
// global counting semaphore, with at-most-one active sync per project.
package queue

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders jobs within a project's queue; lower value runs first.
type Priority int

const (
	PriorityManual Priority = 0
	PriorityAuto   Priority = 1
)

// Job is one queued sync request.
type Job struct {
	OperationID string
	ProjectID   string
	Files       []string
	Priority    Priority
	EnqueuedAt  time.Time
}

// SyncFunc runs one project's sync to completion.
type SyncFunc func(ctx context.Context, projectID string, files []string) error

// Config bounds global concurrency.
type Config struct {
	MaxConcurrent  int
	ShutdownWait   time.Duration
}

var DefaultConfig = Config{MaxConcurrent: 3, ShutdownWait: 30 * time.Second}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultConfig.MaxConcurrent
	}
	if c.ShutdownWait <= 0 {
		c.ShutdownWait = DefaultConfig.ShutdownWait
	}
	return c
}

// SyncQueue dispatches at most one job per project concurrently, and at
// most cfg.MaxConcurrent jobs across all projects.
type SyncQueue struct {
	cfg Config
	sem chan struct{}

	mu      sync.Mutex
	queues  map[string][]Job // projectID -> pending jobs, priority then FIFO
	active  map[string]bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// New builds a SyncQueue.
func New(cfg Config) *SyncQueue {
	cfg = cfg.withDefaults()
	return &SyncQueue{
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		queues: make(map[string][]Job),
		active: make(map[string]bool),
		now:    time.Now,
	}
}

// Enqueue always succeeds, appending a job and returning its operation ID.
func (q *SyncQueue) Enqueue(projectID string, files []string, priority Priority) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := Job{
		OperationID: uuid.NewString(),
		ProjectID:   projectID,
		Files:       files,
		Priority:    priority,
		EnqueuedAt:  q.now(),
	}
	q.queues[projectID] = append(q.queues[projectID], job)
	sortByPriorityThenFIFO(q.queues[projectID])
	return job.OperationID
}

func sortByPriorityThenFIFO(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority < jobs[j].Priority
		}
		return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
	})
}

// Cancel removes operationID from its project's queue, provided that
// project is not currently active. Returns true if a job was removed.
func (q *SyncQueue) Cancel(operationID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for projectID, jobs := range q.queues {
		if q.active[projectID] {
			continue
		}
		for i, j := range jobs {
			if j.OperationID == operationID {
				q.queues[projectID] = append(jobs[:i], jobs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// ExecuteNext is a no-op if projectID is currently active or has no
// pending jobs. Otherwise it attempts to acquire a global concurrency
// slot; if none is immediately free, it is also a no-op (the job stays
// queued for a later call -- this package has no internal dispatch
// loop, so the Worker's scheduling loop is expected to retry). On
// acquiring a slot it dequeues the highest-priority job, marks the
// project active, and runs syncFn in its own goroutine, releasing the
// slot and the active flag on any outcome.
func (q *SyncQueue) ExecuteNext(ctx context.Context, projectID string, syncFn SyncFunc) bool {
	q.mu.Lock()
	if q.active[projectID] || len(q.queues[projectID]) == 0 {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	select {
	case q.sem <- struct{}{}:
	default:
		return false
	}

	q.mu.Lock()
	jobs := q.queues[projectID]
	if len(jobs) == 0 || q.active[projectID] {
		q.mu.Unlock()
		<-q.sem
		return false
	}
	job := jobs[0]
	q.queues[projectID] = jobs[1:]
	q.active[projectID] = true
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() { <-q.sem }()
		defer func() {
			q.mu.Lock()
			delete(q.active, projectID)
			q.mu.Unlock()
		}()
		if err := syncFn(ctx, job.ProjectID, job.Files); err != nil {
			log.Printf("queue: sync job %s for project %s failed: %v", job.OperationID, projectID, err)
		}
	}()
	return true
}

// IsActive reports whether projectID has a sync currently running.
func (q *SyncQueue) IsActive(projectID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active[projectID]
}

// Pending returns the number of jobs still queued for projectID.
func (q *SyncQueue) Pending(projectID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[projectID])
}

// Shutdown waits up to cfg.ShutdownWait for active syncs to finish;
// anything still running past that deadline is logged and abandoned
// (its checkpoint, if any, remains recoverable by RecoveryService).
func (q *SyncQueue) Shutdown() {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(q.cfg.ShutdownWait):
		log.Printf("queue: shutdown timed out after %s waiting for active syncs; abandoning remaining jobs", q.cfg.ShutdownWait)
	}
}
