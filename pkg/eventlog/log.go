package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	elerrors "github.com/randalmurphal/eventlog/pkg/eventlog/errors"
	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
	"github.com/randalmurphal/eventlog/pkg/eventlog/observability"
	"github.com/randalmurphal/eventlog/pkg/eventlog/segment"
)

// Log is an append-only event log over a segment store.
// Safe for concurrent use; writes from one Log are serialized.
type Log struct {
	segments *segment.Store
	codec    *event.Codec

	mu         sync.Mutex
	current    uint64
	discovered bool

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	sink    event.ErrorSink
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(l *Log) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithSpans sets the span manager.
// Default: observability.NoopSpanManager{}.
func WithSpans(sm observability.SpanManager) Option {
	return func(l *Log) {
		if sm != nil {
			l.spans = sm
		}
	}
}

// WithErrorSink sets where malformed stored lines are reported.
// Default: log the line and count it.
func WithErrorSink(sink event.ErrorSink) Option {
	return func(l *Log) {
		l.sink = sink
	}
}

// New creates a Log writing to segments with codec.
func New(segments *segment.Store, codec *event.Codec, opts ...Option) *Log {
	l := &Log{
		segments: segments,
		codec:    codec,
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sink == nil {
		l.sink = event.SinkFunc(l.reportDecodeError)
	}
	return l
}

// Codec returns the codec used to encode and decode events.
func (l *Log) Codec() *event.Codec {
	return l.codec
}

// Write appends events to the open segment in order.
//
// Events are appended in as few atomic blocks as the backend's append
// limit allows; a batch that fits in one block lands in one segment.
// When the open segment is full the log moves to the next segment and
// retries the same block, so events always appear in non-decreasing
// segment order. An empty batch is a no-op.
//
// Returns *errors.TransactionTooLargeError when a single encoded event
// exceeds the append limit. Nothing from the batch is written in that case.
// Any other append failure stops the batch: blocks appended before it stay
// in the log, so a batch split across blocks may be partially written.
func (l *Log) Write(ctx context.Context, events []event.Event) (err error) {
	if len(events) == 0 {
		return nil
	}

	ctx, span := l.spans.StartWriteSpan(ctx, len(events))
	defer func() { l.spans.EndSpanWithError(span, err) }()

	chunks, err := l.encode(events)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.discovered {
		if err := l.discover(ctx); err != nil {
			return err
		}
	}

	for _, c := range chunks {
		if err := l.appendChunk(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

type chunk struct {
	data   []byte
	events int
}

// encode serializes events and packs the lines into blocks no larger than
// the append limit, splitting only at line boundaries.
func (l *Log) encode(events []event.Event) ([]chunk, error) {
	limit := l.segments.MaxAppendBytes()

	var (
		chunks []chunk
		cur    chunk
	)
	for i, e := range events {
		line, err := l.codec.Encode(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %d (%s): %w", i, e.AggregateID, err)
		}
		if len(line) > limit {
			return nil, &elerrors.TransactionTooLargeError{Size: len(line), Limit: limit}
		}
		if len(cur.data)+len(line) > limit {
			chunks = append(chunks, cur)
			cur = chunk{}
		}
		cur.data = append(cur.data, line...)
		cur.events++
	}
	if cur.events > 0 {
		chunks = append(chunks, cur)
	}
	return chunks, nil
}

// discover picks the highest existing segment as the open one.
// Must be called with mu held.
func (l *Log) discover(ctx context.Context) error {
	slices, err := l.segments.List(ctx)
	if err != nil {
		return err
	}
	if n := len(slices); n > 0 {
		l.current = slices[n-1].Segment
	}
	l.discovered = true
	return nil
}

// appendChunk writes one block, rolling over full segments.
// Must be called with mu held.
func (l *Log) appendChunk(ctx context.Context, c chunk) error {
	for {
		err := l.segments.Write(ctx, l.current, c.data)
		if err == nil {
			l.metrics.RecordAppend(ctx, l.current, c.events, len(c.data))
			return nil
		}

		var full *elerrors.SegmentFullError
		if !errors.As(err, &full) {
			return err
		}
		next := l.current + 1
		observability.LogRollover(l.logger, l.current, next)
		l.metrics.RecordRollover(ctx, l.current)
		l.current = next
	}
}

// CurrentSegment returns the segment the next write will target.
// Before the first write it reports 0.
func (l *Log) CurrentSegment() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// ListSlices returns every segment and its current length, ordered by
// segment number. The result may lag recent appends.
func (l *Log) ListSlices(ctx context.Context) ([]segment.Summary, error) {
	return l.segments.List(ctx)
}

// ReadEvents decodes the events of segment seg stored in [from, to).
// Pass ToEnd to read through the current end.
//
// Only complete lines are decoded. A trailing line still being written is
// left out of both Events and EndOffset. Malformed lines are skipped and
// reported to the error sink.
func (l *Log) ReadEvents(ctx context.Context, seg uint64, from, to int64) (ReadResult, error) {
	if from < 0 {
		return ReadResult{}, fmt.Errorf("read segment %d: negative offset %d", seg, from)
	}
	if to != ToEnd && to <= from {
		return ReadResult{EndOffset: from}, nil
	}

	data, err := l.segments.Read(ctx, seg, from)
	if err != nil {
		return ReadResult{}, err
	}
	if to != ToEnd && int64(len(data)) > to-from {
		data = data[:to-from]
	}

	batch := l.codec.DecodeAll(data, seg, from)
	for _, de := range batch.Errors {
		l.sink.Report(ctx, de)
	}
	return ReadResult{Events: batch.Events, EndOffset: batch.End, Errors: batch.Errors}, nil
}

// ReadNew reads everything appended since cursor.
func (l *Log) ReadNew(ctx context.Context, cursor Cursor) (Batch, error) {
	return ReadNew(ctx, l, cursor)
}

func (l *Log) reportDecodeError(ctx context.Context, err error) {
	var de *elerrors.DecodeError
	if errors.As(err, &de) {
		observability.LogDecodeError(l.logger, de.Segment, de.Offset, de)
		l.metrics.RecordDecodeError(ctx, de.Segment)
		return
	}
	observability.LogDecodeError(l.logger, 0, 0, err)
}
