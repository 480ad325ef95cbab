// Package telemetry instruments the Observer's triage latency, the Model
// Client's call latency and token counts, and the Tool Surface's per-tool
// dispatch count, per §2.2 of the expanded spec. Grounded on the teacher's
// runtime/agent/telemetry.ClueMetrics, which wraps a global otel.Meter in
// the same Float64Counter/Float64Histogram shape; adapted here to paige's
// three fixed instrumentation points instead of the teacher's generic
// tag-keyed recorder. As in the teacher's comment on NewClueMetrics, these
// calls are safe before a MeterProvider is configured — instrument
// creation degrades to the SDK's no-op meter until one is registered via
// otel.SetMeterProvider (e.g. by goa.design/clue's OTEL wiring or
// OTEL_EXPORTER_OTLP_ENDPOINT).
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aaronbassett/paige"

var (
	once           sync.Once
	triageLatency  metric.Float64Histogram
	modelLatency   metric.Float64Histogram
	modelInputTok  metric.Int64Counter
	modelOutputTok metric.Int64Counter
	toolDispatch   metric.Int64Counter
	tracer         trace.Tracer
)

func instruments() {
	meter := otel.Meter(instrumentationName)
	triageLatency, _ = meter.Float64Histogram("paige.observer.triage_latency_seconds")
	modelLatency, _ = meter.Float64Histogram("paige.model.call_latency_seconds")
	modelInputTok, _ = meter.Int64Counter("paige.model.input_tokens")
	modelOutputTok, _ = meter.Int64Counter("paige.model.output_tokens")
	toolDispatch, _ = meter.Int64Counter("paige.toolsurface.dispatch_total")
	tracer = otel.Tracer(instrumentationName)
}

// StartSpan starts a span named name, mirroring the teacher's
// ClueTracer.Start. Call sites defer span.End().
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	once.Do(instruments)
	return tracer.Start(ctx, name)
}

// RecordTriageLatency records one Observer classifier round-trip (§4.8
// step 4), tagged by session.
func RecordTriageLatency(ctx context.Context, sessionID uint64, d time.Duration) {
	once.Do(instruments)
	if triageLatency == nil {
		return
	}
	triageLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Int64("session_id", int64(sessionID))))
}

// RecordModelCall records one Model Client completion's latency and token
// usage (§4.4), tagged by call type and resolved model tier.
func RecordModelCall(ctx context.Context, callType, tier string, d time.Duration, inputTokens, outputTokens int) {
	once.Do(instruments)
	attrs := metric.WithAttributes(attribute.String("call_type", callType), attribute.String("tier", tier))
	if modelLatency != nil {
		modelLatency.Record(ctx, d.Seconds(), attrs)
	}
	if modelInputTok != nil {
		modelInputTok.Add(ctx, int64(inputTokens), attrs)
	}
	if modelOutputTok != nil {
		modelOutputTok.Add(ctx, int64(outputTokens), attrs)
	}
}

// RecordToolDispatch records one Tool Surface invocation (§4.7), tagged by
// tool name.
func RecordToolDispatch(ctx context.Context, toolName string) {
	once.Do(instruments)
	if toolDispatch == nil {
		return
	}
	toolDispatch.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", toolName)))
}
