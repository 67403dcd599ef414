package valet

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryMemoryClient wraps a MemoryClient and automatically retries transient
// HTTP errors (status 429 Too Many Requests and 503 Service Unavailable) with
// exponential backoff.
type retryMemoryClient struct {
	inner       MemoryClient
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
	logger      *slog.Logger  // never nil (nopLogger fallback)
}

// RetryOption configures a retrying MemoryClient wrapper.
type RetryOption func(*retryMemoryClient)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryMemoryClient) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 500ms). Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryMemoryClient) { r.baseDelay = d }
}

// RetryTimeout sets the overall timeout for the entire retry sequence.
// Memory calls sit on the conversational turn path, so the default is a tight
// 3 seconds; the zero value disables the limit entirely.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryMemoryClient) { r.timeout = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN and final failures after exhausting attempts log at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryMemoryClient) { r.logger = l }
}

// WithMemoryRetry wraps c with automatic retry on transient HTTP errors
// (429, 503) and a 3-second overall deadline per call. Compose with any
// MemoryClient:
//
//	mem := valet.NewMemoryManager(valet.WithMemoryRetry(mem0.New(apiKey)))
//	mem := valet.NewMemoryManager(valet.WithMemoryRetry(client, valet.RetryTimeout(0)))
func WithMemoryRetry(c MemoryClient, opts ...RetryOption) MemoryClient {
	r := &retryMemoryClient{
		inner:       c,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		timeout:     3 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Search implements MemoryClient with retry.
func (r *retryMemoryClient) Search(ctx context.Context, userID, query string, topK int, minScore float64) ([]MemoryRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.maxAttempts, r.baseDelay, r.logger, func() ([]MemoryRecord, error) {
		return r.inner.Search(ctx, userID, query, topK, minScore)
	})
}

// Add implements MemoryClient with retry.
func (r *retryMemoryClient) Add(ctx context.Context, userID, text string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := retryCall(ctx, r.maxAttempts, r.baseDelay, r.logger, func() (struct{}, error) {
		return struct{}{}, r.inner.Add(ctx, userID, text)
	})
	return err
}

// withTimeout returns a child context with a deadline if r.timeout is set.
// If timeout is zero or ctx already has an earlier deadline, returns ctx
// unchanged. The caller must call the returned CancelFunc when done.
func (r *retryMemoryClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// isTransient reports whether err is a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryCall calls fn up to maxAttempts times, sleeping between transient failures.
func retryCall[T any](ctx context.Context, maxAttempts int, base time.Duration, logger *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < maxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		logger.Warn("retrying transient error",
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", maxAttempts)
		if i < maxAttempts-1 {
			delay := retryDelay(base, i, err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	logger.Error("all retry attempts exhausted",
		"attempts", maxAttempts,
		"error", last)
	return zero, last
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time check
var _ MemoryClient = (*retryMemoryClient)(nil)
