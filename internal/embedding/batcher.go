package embedding

import (
	"context"
	"time"

	"github.com/diffsec/knowsync/internal/classify"
	"github.com/diffsec/knowsync/internal/ratelimit"
)

// BatchEmbedder partitions texts into batches, admits each through a
// RateLimiter, and retries retryable failures with exponential backoff
// before falling back to per-text embedding (spec.md §4.4).
type BatchEmbedder struct {
	provider   Provider
	limiter    *ratelimit.Limiter
	batchSize  int
	maxRetries int
	sleep      func(time.Duration)
}

// Option configures a BatchEmbedder away from its spec defaults.
type Option func(*BatchEmbedder)

// WithBatchSize overrides the default batch_size (50).
func WithBatchSize(n int) Option {
	return func(b *BatchEmbedder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithMaxRetries overrides the default max_retries (3).
func WithMaxRetries(n int) Option {
	return func(b *BatchEmbedder) {
		if n >= 0 {
			b.maxRetries = n
		}
	}
}

// NewBatchEmbedder builds a BatchEmbedder around provider and limiter.
func NewBatchEmbedder(provider Provider, limiter *ratelimit.Limiter, opts ...Option) *BatchEmbedder {
	b := &BatchEmbedder{
		provider:   provider,
		limiter:    limiter,
		batchSize:  50,
		maxRetries: 3,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EmbedAll embeds every text, preserving input order. A text whose
// embedding could not be produced after retries is represented by a nil
// vector at its index, provided at least one text of its batch succeeded;
// if every text of a batch fails, EmbedAll returns that batch's error.
func (b *BatchEmbedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := b.embedBatchWithRetry(ctx, batch)
		if err != nil {
			// Non-retryable category surfaced immediately: whole call fails.
			return nil, err
		}
		copy(out[start:end], vectors)
	}

	return out, nil
}

// embedBatchWithRetry attempts the whole batch, retrying retryable failures
// with exponential backoff; if every attempt fails it falls back to
// per-text embedding so a single bad item doesn't sink the rest.
func (b *BatchEmbedder) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		b.limiter.Admit()

		vectors, err := b.provider.EmbedBatch(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		category := classify.Classify(err)
		if !classify.IsRetryable(category) {
			return nil, err
		}
		if attempt < b.maxRetries {
			b.sleep(backoff(attempt + 1))
		}
	}

	return b.embedPerText(ctx, batch, lastErr)
}

// embedPerText embeds batch one item at a time after the whole-batch path
// exhausted its retries, so partial success is still possible. firstErr is
// returned only if every single item also fails.
func (b *BatchEmbedder) embedPerText(ctx context.Context, batch []string, firstErr error) ([][]float32, error) {
	out := make([][]float32, len(batch))
	anySucceeded := false

	for i, text := range batch {
		b.limiter.Admit()
		vec, err := b.provider.Embed(ctx, text)
		if err != nil {
			continue
		}
		out[i] = vec
		anySucceeded = true
	}

	if !anySucceeded {
		return out, firstErr
	}
	return out, nil
}

// backoff returns the exponential 2^n-second delay for the n-th retry
// (1-indexed: first retry waits 2s, second 4s, ...), per spec.md §4.4/§8 S5.
func backoff(n int) time.Duration {
	return (1 << uint(n)) * time.Second
}

// TokenAwareBatcher groups texts into batches respecting both a maximum
// item count and a maximum estimated token count per batch.
type TokenAwareBatcher struct {
	MaxItemsPerBatch int
	MaxTokensPerBatch int
}

// EstimateTokens approximates token count as floor(len(text)/4).
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Batch splits texts into index batches, never exceeding MaxItemsPerBatch
// items or MaxTokensPerBatch estimated tokens per batch. A single text that
// alone exceeds MaxTokensPerBatch still gets its own batch rather than
// being dropped.
func (t TokenAwareBatcher) Batch(texts []string) [][]int {
	var batches [][]int
	var current []int
	tokens := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
	}

	for i, text := range texts {
		est := EstimateTokens(text)

		if len(current) > 0 && (len(current) >= t.MaxItemsPerBatch || tokens+est > t.MaxTokensPerBatch) {
			flush()
		}

		current = append(current, i)
		tokens += est
	}
	flush()

	return batches
}
