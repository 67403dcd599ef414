package valet

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyMemoryClient fails a set number of times before succeeding.
type flakyMemoryClient struct {
	failures int
	err      error
	calls    int
	records  []MemoryRecord
}

func (f *flakyMemoryClient) Search(_ context.Context, _, _ string, _ int, _ float64) ([]MemoryRecord, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.records, nil
}

func (f *flakyMemoryClient) Add(_ context.Context, _, _ string) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestWithMemoryRetry_RecoversFromTransientError(t *testing.T) {
	inner := &flakyMemoryClient{
		failures: 2,
		err:      &ErrHTTP{Status: 429, Body: "slow down"},
		records:  []MemoryRecord{{Text: "fact", Score: 0.9}},
	}
	client := WithMemoryRetry(inner, RetryBaseDelay(time.Millisecond))

	records, err := client.Search(context.Background(), "u1", "q", 5, 0.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || inner.calls != 3 {
		t.Errorf("records=%v calls=%d", records, inner.calls)
	}
}

func TestWithMemoryRetry_NonTransientFailsImmediately(t *testing.T) {
	inner := &flakyMemoryClient{
		failures: 5,
		err:      &ErrHTTP{Status: 400, Body: "bad request"},
	}
	client := WithMemoryRetry(inner, RetryBaseDelay(time.Millisecond))

	_, err := client.Search(context.Background(), "u1", "q", 5, 0.3)
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("expected single attempt for non-transient error, got %d", inner.calls)
	}
}

func TestWithMemoryRetry_ExhaustsAttempts(t *testing.T) {
	inner := &flakyMemoryClient{
		failures: 10,
		err:      &ErrHTTP{Status: 503, Body: "unavailable"},
	}
	client := WithMemoryRetry(inner, RetryBaseDelay(time.Millisecond), RetryMaxAttempts(3))

	err := client.Add(context.Background(), "u1", "text")
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 503 {
		t.Fatalf("expected final 503, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestWithMemoryRetry_TimeoutCancelsSequence(t *testing.T) {
	inner := &flakyMemoryClient{
		failures: 10,
		err:      &ErrHTTP{Status: 429, Body: "slow down", RetryAfter: time.Hour},
	}
	client := WithMemoryRetry(inner,
		RetryBaseDelay(time.Millisecond),
		RetryTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := client.Search(context.Background(), "u1", "q", 5, 0.3)
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("retry sequence outlived its deadline: %v", elapsed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestRetryDelay_HonorsRetryAfterFloor(t *testing.T) {
	err := &ErrHTTP{Status: 429, RetryAfter: time.Second}
	if d := retryDelay(time.Millisecond, 0, err); d < time.Second {
		t.Errorf("expected delay >= Retry-After, got %v", d)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("120"); d != 2*time.Minute {
		t.Errorf("seconds form: got %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("empty: got %v", d)
	}
	if d := ParseRetryAfter("garbage"); d != 0 {
		t.Errorf("malformed: got %v", d)
	}
	future := time.Now().Add(time.Minute).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	if d := ParseRetryAfter(future); d <= 0 || d > time.Minute {
		t.Errorf("http-date form: got %v", d)
	}
}
