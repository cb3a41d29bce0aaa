package debounce

import (
	"sync"
	"testing"
	"time"
)

// TestInvariant5CoalescesToLatestEventPerFile: for a burst of events on the
// same (project, file), the flushed batch contains exactly one entry for
// that file, carrying the greatest timestamp.
func TestInvariant5CoalescesToLatestEventPerFile(t *testing.T) {
	var mu sync.Mutex
	var flushed []FileEvent

	d := New(Config{DebounceInterval: 20 * time.Millisecond, MaxBatchSize: 50}, func(projectID string, events []FileEvent) {
		mu.Lock()
		flushed = append(flushed, events...)
		mu.Unlock()
	})

	base := time.Now()
	var last time.Time
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Millisecond)
		last = ts
		d.Add(FileEvent{Kind: Modified, ProjectID: "p1", FilePath: "a.py", Timestamp: ts})
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("expected exactly one flushed event, got %d", len(flushed))
	}
	if !flushed[0].Timestamp.Equal(last) {
		t.Errorf("expected flushed event to carry the latest timestamp %v, got %v", last, flushed[0].Timestamp)
	}
}

// TestS4TenEventsWithinDebounceWindowFlushOnce exercises spec scenario S4:
// 10 modified events within 200ms, debounce=2s, max_batch=50 -- exactly one
// flush fires after ~2s with exactly one FileEvent.
func TestS4TenEventsWithinDebounceWindowFlushOnce(t *testing.T) {
	var mu sync.Mutex
	flushCount := 0
	var lastBatch []FileEvent

	d := New(Config{DebounceInterval: 2 * time.Second, MaxBatchSize: 50}, func(projectID string, events []FileEvent) {
		mu.Lock()
		flushCount++
		lastBatch = events
		mu.Unlock()
	})

	base := time.Now()
	var tenth time.Time
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i*20) * time.Millisecond)
		tenth = ts
		d.Add(FileEvent{Kind: Modified, ProjectID: "p1", FilePath: "a.py", Timestamp: ts})
	}

	mu.Lock()
	if flushCount != 0 {
		t.Fatalf("expected no flush before the debounce interval elapses, got %d", flushCount)
	}
	mu.Unlock()

	time.Sleep(2200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if flushCount != 1 {
		t.Fatalf("expected exactly one flush, got %d", flushCount)
	}
	if len(lastBatch) != 1 {
		t.Fatalf("expected exactly one event in the flushed batch, got %d", len(lastBatch))
	}
	if !lastBatch[0].Timestamp.Equal(tenth) {
		t.Errorf("expected the flushed event's timestamp to be the 10th event's, got %v want %v", lastBatch[0].Timestamp, tenth)
	}
}

// TestMaxBatchSizeEscapesTimer: reaching MaxBatchSize flushes immediately
// without waiting for the debounce interval.
func TestMaxBatchSizeEscapesTimer(t *testing.T) {
	var mu sync.Mutex
	flushCount := 0
	var batchLen int

	d := New(Config{DebounceInterval: time.Hour, MaxBatchSize: 3}, func(projectID string, events []FileEvent) {
		mu.Lock()
		flushCount++
		batchLen = len(events)
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		d.Add(FileEvent{Kind: Modified, ProjectID: "p1", FilePath: string(rune('a' + i)), Timestamp: time.Now()})
	}

	mu.Lock()
	defer mu.Unlock()
	if flushCount != 1 {
		t.Fatalf("expected max-batch-size escape to trigger one immediate flush, got %d", flushCount)
	}
	if batchLen != 3 {
		t.Errorf("expected batch of 3, got %d", batchLen)
	}
}

// TestPerProjectIsolation: events for distinct projects don't interfere
// with each other's timers or batches.
func TestPerProjectIsolation(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}

	d := New(Config{DebounceInterval: 20 * time.Millisecond, MaxBatchSize: 50}, func(projectID string, events []FileEvent) {
		mu.Lock()
		seen[projectID] = len(events)
		mu.Unlock()
	})

	d.Add(FileEvent{Kind: Modified, ProjectID: "p1", FilePath: "a.py", Timestamp: time.Now()})
	d.Add(FileEvent{Kind: Modified, ProjectID: "p2", FilePath: "b.py", Timestamp: time.Now()})
	d.Add(FileEvent{Kind: Modified, ProjectID: "p2", FilePath: "c.py", Timestamp: time.Now()})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if seen["p1"] != 1 {
		t.Errorf("expected p1 batch of 1, got %d", seen["p1"])
	}
	if seen["p2"] != 2 {
		t.Errorf("expected p2 batch of 2, got %d", seen["p2"])
	}
}

// TestFlushAllDrainsEveryProject.
func TestFlushAllDrainsEveryProject(t *testing.T) {
	var mu sync.Mutex
	flushedProjects := map[string]bool{}

	d := New(Config{DebounceInterval: time.Hour, MaxBatchSize: 50}, func(projectID string, events []FileEvent) {
		mu.Lock()
		flushedProjects[projectID] = true
		mu.Unlock()
	})

	d.Add(FileEvent{Kind: Created, ProjectID: "p1", FilePath: "a.py", Timestamp: time.Now()})
	d.Add(FileEvent{Kind: Created, ProjectID: "p2", FilePath: "b.py", Timestamp: time.Now()})

	d.FlushAll()

	mu.Lock()
	defer mu.Unlock()
	if !flushedProjects["p1"] || !flushedProjects["p2"] {
		t.Fatalf("expected FlushAll to drain both projects, got %+v", flushedProjects)
	}
}

// TestShutdownFlushesRemainingAndStopsAcceptingEvents.
func TestShutdownFlushesRemainingAndStopsAcceptingEvents(t *testing.T) {
	var mu sync.Mutex
	flushCount := 0

	d := New(Config{DebounceInterval: time.Hour, MaxBatchSize: 50}, func(projectID string, events []FileEvent) {
		mu.Lock()
		flushCount++
		mu.Unlock()
	})

	d.Add(FileEvent{Kind: Created, ProjectID: "p1", FilePath: "a.py", Timestamp: time.Now()})
	d.Shutdown()

	d.Add(FileEvent{Kind: Created, ProjectID: "p1", FilePath: "z.py", Timestamp: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	if flushCount != 1 {
		t.Fatalf("expected shutdown to flush exactly once and ignore post-shutdown adds, got %d", flushCount)
	}
}
