package projection

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/eventlog/pkg/eventlog/blob"
	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
	"github.com/randalmurphal/eventlog/pkg/eventlog/observability"
)

// DefaultSnapshotPrefix is where snapshots are stored unless overridden.
const DefaultSnapshotPrefix = "snapshots/"

type options struct {
	syncBeforeRead   bool
	syncInterval     time.Duration
	snapshots        blob.Store
	snapshotInterval time.Duration
	snapshotPrefix   string
	logger           *slog.Logger
	metrics          observability.MetricsRecorder
	spans            observability.SpanManager
	sink             event.ErrorSink
}

func defaultOptions() options {
	return options{
		snapshotPrefix: DefaultSnapshotPrefix,
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
	}
}

// Option configures a projection Store.
type Option func(*options)

// WithSyncBeforeRead makes Read, List and Query sync before answering.
// Default: false (reads answer from memory without I/O).
func WithSyncBeforeRead(enabled bool) Option {
	return func(o *options) {
		o.syncBeforeRead = enabled
	}
}

// WithSyncInterval syncs in the background once Start is called. The next
// sync is scheduled only after the previous one finishes.
// Default: 0 (no background sync).
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) {
		o.syncInterval = d
	}
}

// WithSnapshots loads a snapshot from store in New and, once Start is
// called, saves one every interval when state changed. An interval of 0
// saves only on SaveSnapshot and Close.
func WithSnapshots(store blob.Store, interval time.Duration) Option {
	return func(o *options) {
		o.snapshots = store
		o.snapshotInterval = interval
	}
}

// WithSnapshotPrefix sets the blob name prefix for snapshots.
// Default: DefaultSnapshotPrefix.
func WithSnapshotPrefix(prefix string) Option {
	return func(o *options) {
		o.snapshotPrefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpans sets the span manager.
// Default: observability.NoopSpanManager{}.
func WithSpans(sm observability.SpanManager) Option {
	return func(o *options) {
		if sm != nil {
			o.spans = sm
		}
	}
}

// WithErrorSink receives handler failures in addition to the log.
func WithErrorSink(sink event.ErrorSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}
