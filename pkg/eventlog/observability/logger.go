// Package observability provides structured logging, metrics and tracing
// for the event log and projection engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds component context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "projection", "cakes")
//	enriched.Info("syncing") // includes component and name
func EnrichLogger(logger *slog.Logger, component, name string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("component", component),
		slog.String("name", name),
	)
}

// LogRollover logs a writer moving to the next segment.
func LogRollover(logger *slog.Logger, from, to uint64) {
	if logger == nil {
		return
	}
	logger.Info("segment full, rolling over",
		slog.Uint64("from_segment", from),
		slog.Uint64("to_segment", to),
	)
}

// LogReadRetry logs a read that needed more than one attempt.
func LogReadRetry(logger *slog.Logger, name string, attempts int, err error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("blob", name),
		slog.Int("attempts", attempts),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.Debug("segment read retried", attrs...)
}

// LogDecodeError logs a stored line that was skipped.
func LogDecodeError(logger *slog.Logger, segment uint64, offset int64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("skipping malformed event line",
		slog.Uint64("segment", segment),
		slog.Int64("offset", offset),
		slog.String("error", err.Error()),
	)
}

// LogHandlerError logs a projection handler failure (non-fatal).
func LogHandlerError(logger *slog.Logger, projection, aggregateID, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("projection handler failed",
		slog.String("projection", projection),
		slog.String("aggregate_id", aggregateID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogSyncComplete logs a finished sync pass.
func LogSyncComplete(logger *slog.Logger, projection string, events int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("projection synced",
		slog.String("projection", projection),
		slog.Int("events_applied", events),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogSyncError logs a failed sync pass.
func LogSyncError(logger *slog.Logger, projection string, err error) {
	if logger == nil {
		return
	}
	logger.Error("projection sync failed",
		slog.String("projection", projection),
		slog.String("error", err.Error()),
	)
}

// LogSnapshotSaved logs a snapshot upload.
func LogSnapshotSaved(logger *slog.Logger, projection, name string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("snapshot saved",
		slog.String("projection", projection),
		slog.String("blob", name),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogSnapshotLoaded logs a snapshot restored at startup.
func LogSnapshotLoaded(logger *slog.Logger, projection string, aggregates int) {
	if logger == nil {
		return
	}
	logger.Debug("snapshot loaded",
		slog.String("projection", projection),
		slog.Int("aggregates", aggregates),
	)
}

// LogSnapshotError logs a snapshot failure (non-fatal).
func LogSnapshotError(logger *slog.Logger, projection, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("snapshot failed",
		slog.String("projection", projection),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
