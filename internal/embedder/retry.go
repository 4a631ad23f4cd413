package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Prokaee/CTM-Quizbot/internal/logging"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

// ErrUnavailable marks an embedding failure that persisted through all retry
// attempts. Callers distinguish it from validation errors with errors.Is.
var ErrUnavailable = errors.New("embedding backend unavailable")

// defaultMaxAttempts is the total number of tries, including the first.
const defaultMaxAttempts = 3

// defaultBaseDelay is the backoff delay before the first retry; it doubles
// on every subsequent attempt.
const defaultBaseDelay = 500 * time.Millisecond

// retryEmbedder wraps another Embedder with bounded retries and exponential
// backoff. Context cancellation aborts the wait immediately.
type retryEmbedder struct {
	inner       rag.Embedder
	maxAttempts int
	baseDelay   time.Duration
}

// WithRetry wraps inner so transient backend failures are retried with
// exponential backoff. attempts <= 0 selects the default of 3 total tries.
// After the last failed attempt the returned error wraps [ErrUnavailable].
func WithRetry(inner rag.Embedder, attempts int) rag.Embedder {
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &retryEmbedder{
		inner:       inner,
		maxAttempts: attempts,
		baseDelay:   defaultBaseDelay,
	}
}

// Embed delegates to the wrapped embedder, retrying on failure.
func (e *retryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	delay := e.baseDelay
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		embeddings, err := e.inner.Embed(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		// A cancelled context is the caller's decision, not a backend
		// fault — report it as-is without burning remaining attempts.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == e.maxAttempts {
			break
		}

		logging.FromContext(ctx).Warn("embedder: attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.maxAttempts),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("embedder: %d attempts failed: %v: %w", e.maxAttempts, lastErr, ErrUnavailable)
}
