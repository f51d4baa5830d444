// Package segment stores the event log as a sequence of append blobs.
//
// A segment is one blob named {prefix}{sequence}.tsv with the sequence
// zero-padded to the width of the largest uint64, so lexical and numeric
// order agree. Each write is one atomic append; a segment accepts writes
// until its block count reaches the configured target, after which Write
// reports *errors.SegmentFullError and the caller moves on to the next
// sequence number.
package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/randalmurphal/eventlog/pkg/eventlog/blob"
	elerrors "github.com/randalmurphal/eventlog/pkg/eventlog/errors"
	"github.com/randalmurphal/eventlog/pkg/eventlog/observability"
)

const (
	// DefaultTargetWrites is the number of appends a segment accepts before
	// it is reported full. It stays below the backend block ceiling to
	// absorb writers racing past the admission check.
	DefaultTargetWrites = 40000

	// Extension is the suffix of every segment blob.
	Extension = ".tsv"

	seqWidth = 20
)

// Summary reports how far a segment has grown.
type Summary struct {
	Segment   uint64
	EndOffset int64
}

// Store reads and writes segments on a blob store.
// Safe for concurrent use.
type Store struct {
	blobs   blob.Store
	prefix  string
	target  int
	retry   elerrors.RetrySchedule
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the blob name prefix shared by every segment of the log.
// Default: "" (segments at the store root).
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTargetWrites sets how many appends a segment accepts.
// Default: DefaultTargetWrites. Values above the backend's block ceiling
// are clamped to it.
func WithTargetWrites(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.target = n
		}
	}
}

// WithReadRetry overrides the retry schedule for reads that race an append.
// Default: errors.DefaultReadRetry.
func WithReadRetry(schedule elerrors.RetrySchedule) Option {
	return func(s *Store) {
		s.retry = schedule
	}
}

// WithLogger sets the logger for rollover and retry messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a segment store on top of blobs.
func New(blobs blob.Store, opts ...Option) *Store {
	s := &Store{
		blobs:   blobs,
		target:  DefaultTargetWrites,
		retry:   elerrors.DefaultReadRetry,
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if ceiling := blobs.Limits().MaxBlocks; ceiling > 0 && s.target > ceiling {
		s.target = ceiling
	}
	s.retry = s.retry.WithRetryable(func(err error) bool {
		return errors.Is(err, blob.ErrNotVisible)
	})
	return s
}

// Prefix returns the blob name prefix of this log.
func (s *Store) Prefix() string {
	return s.prefix
}

// TargetWrites returns the effective per-segment write target.
func (s *Store) TargetWrites() int {
	return s.target
}

// MaxAppendBytes returns the largest payload a single Write accepts.
func (s *Store) MaxAppendBytes() int {
	return s.blobs.Limits().MaxAppendBytes
}

// Name returns the blob name of segment seg.
func (s *Store) Name(seg uint64) string {
	return fmt.Sprintf("%s%0*d%s", s.prefix, seqWidth, seg, Extension)
}

// ParseName extracts the segment number from a blob name.
// Returns false when name is not a segment of this log.
func (s *Store) ParseName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, s.prefix)
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutSuffix(rest, Extension)
	if !ok || len(digits) != seqWidth {
		return 0, false
	}
	seg, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seg, true
}

// Write appends data to segment seg as one atomic block, creating the
// segment if needed.
//
// Returns *errors.TransactionTooLargeError when data exceeds the backend's
// append limit and *errors.SegmentFullError when the segment has reached
// its write target. An empty payload is a no-op.
func (s *Store) Write(ctx context.Context, seg uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	limit := s.MaxAppendBytes()
	if len(data) > limit {
		return &elerrors.TransactionTooLargeError{Size: len(data), Limit: limit}
	}

	name := s.Name(seg)
	if err := s.blobs.CreateIfMissing(ctx, name); err != nil {
		return fmt.Errorf("create segment %d: %w", seg, err)
	}

	// Block counts are read, not reserved: concurrent writers may overshoot
	// the target slightly, which the headroom below the ceiling absorbs.
	info, err := s.blobs.Properties(ctx, name)
	if err != nil {
		return fmt.Errorf("segment %d properties: %w", seg, err)
	}
	if info.Blocks >= s.target {
		return &elerrors.SegmentFullError{Segment: seg, Writes: info.Blocks, Target: s.target}
	}

	err = s.blobs.Append(ctx, name, data)
	switch {
	case err == nil:
	case errors.Is(err, blob.ErrTooManyBlocks):
		return &elerrors.SegmentFullError{Segment: seg, Writes: info.Blocks, Target: s.target}
	case errors.Is(err, blob.ErrBlockTooLarge):
		return &elerrors.TransactionTooLargeError{Size: len(data), Limit: limit}
	case ctx.Err() != nil:
		return fmt.Errorf("append segment %d: %w", seg, err)
	default:
		return elerrors.Transient(err, fmt.Sprintf("append segment %d", seg))
	}
	return nil
}

// Read returns the content of segment seg from byte offset from to its
// current end.
//
// A read that observes an append still becoming visible is retried per the
// configured schedule; if every attempt fails that way the final error is
// returned wrapped in *errors.ReadRaceError. Returns errors.ErrNotFound if
// the segment doesn't exist. Other backend failures are categorized as
// transient.
func (s *Store) Read(ctx context.Context, seg uint64, from int64) ([]byte, error) {
	name := s.Name(seg)
	res := elerrors.Retry(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		rc, err := s.blobs.OpenReadAt(ctx, name, from)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, rc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})

	if res.Attempts > 1 {
		observability.LogReadRetry(s.logger, name, res.Attempts, res.Err)
		s.metrics.RecordReadRetry(ctx, res.Attempts)
	}

	switch {
	case res.Err == nil:
		return res.Value, nil
	case errors.Is(res.Err, blob.ErrNotVisible):
		return nil, &elerrors.ReadRaceError{Name: name, Attempts: res.Attempts, Err: res.Err}
	case errors.Is(res.Err, blob.ErrNotFound):
		return nil, fmt.Errorf("segment %d: %w", seg, elerrors.ErrNotFound)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("read segment %d: %w", seg, res.Err)
	default:
		cerr := elerrors.Transient(res.Err, fmt.Sprintf("read segment %d", seg))
		cerr.Attempts = res.Attempts
		return nil, cerr
	}
}

// List returns every segment of this log ordered by segment number.
// Blobs under the prefix that are not segments are skipped.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	infos, err := s.blobs.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	summaries := make([]Summary, 0, len(infos))
	for _, info := range infos {
		seg, ok := s.ParseName(info.Name)
		if !ok {
			continue
		}
		summaries = append(summaries, Summary{Segment: seg, EndOffset: info.Length})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Segment < summaries[j].Segment
	})
	return summaries, nil
}
