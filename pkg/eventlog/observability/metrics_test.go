package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}
	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestOtelMetrics(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("append counts events and bytes", func(t *testing.T) {
		m.RecordAppend(ctx, 0, 3, 120)
		m.RecordAppend(ctx, 1, 2, 80)

		rm := collectMetrics(t, reader)
		assert.Equal(t, int64(5), sumOf(t, findMetric(rm, "eventlog.append.events")))
		assert.Equal(t, int64(200), sumOf(t, findMetric(rm, "eventlog.append.bytes")))
	})

	t.Run("rollovers and retries", func(t *testing.T) {
		m.RecordRollover(ctx, 4)
		m.RecordReadRetry(ctx, 3)
		m.RecordDecodeError(ctx, 4)

		rm := collectMetrics(t, reader)
		assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventlog.segment.rollovers")))
		assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventlog.read.retries")))
		assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventlog.decode.errors")))
	})

	t.Run("sync records events latency and errors", func(t *testing.T) {
		m.RecordSync(ctx, "cakes", 5, 20*time.Millisecond, nil)
		m.RecordSync(ctx, "cakes", 0, time.Millisecond, errors.New("boom"))

		rm := collectMetrics(t, reader)
		assert.Equal(t, int64(5), sumOf(t, findMetric(rm, "eventlog.sync.events")))
		assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventlog.sync.errors")))

		latency := findMetric(rm, "eventlog.sync.latency_ms")
		require.NotNil(t, latency)
		hist, ok := latency.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
		assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	})

	t.Run("handler errors and snapshots", func(t *testing.T) {
		m.RecordHandlerError(ctx, "cakes", "CAKECUT")
		m.RecordSnapshot(ctx, "cakes", 2048)

		rm := collectMetrics(t, reader)
		assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "eventlog.handler.errors")))

		size := findMetric(rm, "eventlog.snapshot.size_bytes")
		require.NotNil(t, size)
		hist, ok := size.Data.(metricdata.Histogram[int64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
		assert.Equal(t, int64(2048), hist.DataPoints[0].Sum)
	})
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordAppend(ctx, 0, 1, 1)
		m.RecordRollover(ctx, 0)
		m.RecordReadRetry(ctx, 2)
		m.RecordDecodeError(ctx, 0)
		m.RecordSync(ctx, "p", 1, time.Second, nil)
		m.RecordHandlerError(ctx, "p", "T")
		m.RecordSnapshot(ctx, "p", 1)
	})
}
