// Package parallel runs a per-file operation across a bounded worker pool,
// isolating one file's failure from the rest and reporting progress as the
// batch completes.
package parallel

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of running the operation against a single file.
type Result struct {
	FilePath string
	Success  bool
	Value    any
	Err      error
	Duration time.Duration
}

// Progress is emitted after each file completes.
type Progress struct {
	Total     int
	Processed int
	Failed    int
	Current   string
	StartTime time.Time
	Rate      float64       // files per second
	ETA       time.Duration // estimate to completion
}

// Config tunes the processor away from its spec default.
type Config struct {
	MaxWorkers int
}

// DefaultConfig matches spec.md §4.5.
var DefaultConfig = Config{MaxWorkers: 5}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultConfig.MaxWorkers
	}
	return c
}

// Operation processes a single file and returns an arbitrary result value.
type Operation func(ctx context.Context, filePath string) (any, error)

// Run applies op to every path with at most cfg.MaxWorkers concurrent
// calls. A failure on one file never cancels the others. onProgress, if
// non-nil, is called after each completion (it may be called from any
// worker goroutine and must not block).
func Run(ctx context.Context, paths []string, op Operation, cfg Config, onProgress func(Progress)) []Result {
	cfg = cfg.withDefaults()

	results := make([]Result, len(paths))
	sem := make(chan struct{}, cfg.MaxWorkers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	processed, failed := 0, 0
	start := time.Now()

	for i, path := range paths {
		select {
		case <-ctx.Done():
			results[i] = Result{FilePath: path, Success: false, Err: ctx.Err()}
			continue
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()

			callStart := time.Now()
			value, err := op(ctx, path)
			dur := time.Since(callStart)

			results[i] = Result{
				FilePath: path,
				Success:  err == nil,
				Value:    value,
				Err:      err,
				Duration: dur,
			}

			mu.Lock()
			processed++
			if err != nil {
				failed++
			}
			elapsed := time.Since(start).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(processed) / elapsed
			}
			var eta time.Duration
			if rate > 0 {
				remaining := len(paths) - processed
				eta = time.Duration(float64(remaining)/rate) * time.Second
			}
			p := Progress{
				Total:     len(paths),
				Processed: processed,
				Failed:    failed,
				Current:   path,
				StartTime: start,
				Rate:      rate,
				ETA:       eta,
			}
			mu.Unlock()

			if onProgress != nil {
				onProgress(p)
			}
		}(i, path)
	}

	wg.Wait()
	return results
}
