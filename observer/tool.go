package observer

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	valet "github.com/valet-ai/valet"
)

// ObservedTool wraps a valet.Tool with execution metrics and a structured log
// record per call. Spans come from the session's tracer, not from here.
type ObservedTool struct {
	inner valet.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner valet.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

var _ valet.Tool = (*ObservedTool)(nil)

func (o *ObservedTool) Definitions() []valet.ToolDefinition {
	return o.inner.Definitions()
}

func (o *ObservedTool) Execute(ctx context.Context, name string, args json.RawMessage) (valet.ToolResult, error) {
	start := time.Now()

	result, err := o.inner.Execute(ctx, name, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.Error != "" {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
	}

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("tool.name", name),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result.Content)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}
