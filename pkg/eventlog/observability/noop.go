package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordAppend(context.Context, uint64, int, int)                {}
func (NoopMetrics) RecordRollover(context.Context, uint64)                        {}
func (NoopMetrics) RecordReadRetry(context.Context, int)                          {}
func (NoopMetrics) RecordDecodeError(context.Context, uint64)                     {}
func (NoopMetrics) RecordSync(context.Context, string, int, time.Duration, error) {}
func (NoopMetrics) RecordHandlerError(context.Context, string, string)            {}
func (NoopMetrics) RecordSnapshot(context.Context, string, int64)                 {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

func (NoopSpanManager) StartWriteSpan(ctx context.Context, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) StartSyncSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) StartSnapshotSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
