package observability

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records event log metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordAppend records one successful append to a segment.
	RecordAppend(ctx context.Context, segment uint64, events, bytes int)

	// RecordRollover records a writer moving past a full segment.
	RecordRollover(ctx context.Context, from uint64)

	// RecordReadRetry records a segment read that took more than one attempt.
	RecordReadRetry(ctx context.Context, attempts int)

	// RecordDecodeError records a skipped malformed line.
	RecordDecodeError(ctx context.Context, segment uint64)

	// RecordSync records a projection sync pass.
	RecordSync(ctx context.Context, projection string, events int, duration time.Duration, err error)

	// RecordHandlerError records a failed handler invocation.
	RecordHandlerError(ctx context.Context, projection, eventType string)

	// RecordSnapshot records a snapshot upload.
	RecordSnapshot(ctx context.Context, projection string, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	appendEvents  metric.Int64Counter
	appendBytes   metric.Int64Counter
	rollovers     metric.Int64Counter
	readRetries   metric.Int64Counter
	decodeErrors  metric.Int64Counter
	syncEvents    metric.Int64Counter
	syncLatency   metric.Float64Histogram
	syncErrors    metric.Int64Counter
	handlerErrors metric.Int64Counter
	snapshotSize  metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventlog")
	m := &otelMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.appendEvents, "eventlog.append.events", "Number of events appended"},
		{&m.appendBytes, "eventlog.append.bytes", "Number of bytes appended"},
		{&m.rollovers, "eventlog.segment.rollovers", "Number of segment rollovers"},
		{&m.readRetries, "eventlog.read.retries", "Number of segment reads that needed a retry"},
		{&m.decodeErrors, "eventlog.decode.errors", "Number of malformed lines skipped"},
		{&m.syncEvents, "eventlog.sync.events", "Number of events applied to projections"},
		{&m.syncErrors, "eventlog.sync.errors", "Number of failed sync passes"},
		{&m.handlerErrors, "eventlog.handler.errors", "Number of failed handler invocations"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.syncLatency, err = meter.Float64Histogram("eventlog.sync.latency_ms",
		metric.WithDescription("Projection sync latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.snapshotSize, err = meter.Int64Histogram("eventlog.snapshot.size_bytes",
		metric.WithDescription("Compressed snapshot size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func segmentAttr(segment uint64) attribute.KeyValue {
	return attribute.String("segment", strconv.FormatUint(segment, 10))
}

// RecordAppend records one append.
func (m *otelMetrics) RecordAppend(ctx context.Context, segment uint64, events, bytes int) {
	attrs := metric.WithAttributes(segmentAttr(segment))
	m.appendEvents.Add(ctx, int64(events), attrs)
	m.appendBytes.Add(ctx, int64(bytes), attrs)
}

// RecordRollover records a rollover.
func (m *otelMetrics) RecordRollover(ctx context.Context, from uint64) {
	m.rollovers.Add(ctx, 1, metric.WithAttributes(segmentAttr(from)))
}

// RecordReadRetry records a retried read.
func (m *otelMetrics) RecordReadRetry(ctx context.Context, attempts int) {
	m.readRetries.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempts", attempts)))
}

// RecordDecodeError records a skipped line.
func (m *otelMetrics) RecordDecodeError(ctx context.Context, segment uint64) {
	m.decodeErrors.Add(ctx, 1, metric.WithAttributes(segmentAttr(segment)))
}

// RecordSync records a sync pass.
func (m *otelMetrics) RecordSync(ctx context.Context, projection string, events int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("projection", projection))
	m.syncEvents.Add(ctx, int64(events), attrs)
	m.syncLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.syncErrors.Add(ctx, 1, attrs)
	}
}

// RecordHandlerError records a failed handler.
func (m *otelMetrics) RecordHandlerError(ctx context.Context, projection, eventType string) {
	m.handlerErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", projection),
		attribute.String("event_type", eventType),
	))
}

// RecordSnapshot records a snapshot upload.
func (m *otelMetrics) RecordSnapshot(ctx context.Context, projection string, sizeBytes int64) {
	m.snapshotSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("projection", projection)))
}
