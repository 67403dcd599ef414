package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	valet "github.com/valet-ai/valet"
)

// ObservedMemory wraps a valet.MemoryClient with retrieval and write metrics.
// Wrap outside the retry layer so each logical operation counts once, not
// once per attempt.
type ObservedMemory struct {
	inner valet.MemoryClient
	inst  *Instruments
}

// WrapMemory returns an instrumented memory client.
func WrapMemory(inner valet.MemoryClient, inst *Instruments) *ObservedMemory {
	return &ObservedMemory{inner: inner, inst: inst}
}

var _ valet.MemoryClient = (*ObservedMemory)(nil)

func (o *ObservedMemory) Search(ctx context.Context, userID, query string, topK int, minScore float64) ([]valet.MemoryRecord, error) {
	start := time.Now()
	records, err := o.inner.Search(ctx, userID, query, topK, minScore)
	o.record(ctx, o.inst.MemoryRetrievals, "search", start, err)
	return records, err
}

func (o *ObservedMemory) Add(ctx context.Context, userID, text string) error {
	start := time.Now()
	err := o.inner.Add(ctx, userID, text)
	o.record(ctx, o.inst.MemoryWrites, "add", start, err)
	return err
}

func (o *ObservedMemory) record(ctx context.Context, counter metric.Int64Counter, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	o.inst.MemoryDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("memory.op", op),
	))
}
