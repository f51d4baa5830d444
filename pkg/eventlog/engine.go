package eventlog

import (
	"context"

	elerrors "github.com/randalmurphal/eventlog/pkg/eventlog/errors"
	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
	"github.com/randalmurphal/eventlog/pkg/eventlog/segment"
)

// ToEnd reads a segment through its current end.
const ToEnd int64 = -1

// Source is the read side of a storage engine. Projections consume it.
type Source interface {
	// ListSlices reports every segment and how far it has grown.
	ListSlices(ctx context.Context) ([]segment.Summary, error)

	// ReadEvents decodes the complete lines of segment seg in [from, to).
	// Pass ToEnd to read through the current end.
	ReadEvents(ctx context.Context, seg uint64, from, to int64) (ReadResult, error)
}

// Engine is a storage engine for events. Log is the segmented blob
// implementation; engines with per-aggregate optimistic concurrency
// report conflicts as errors.ErrOptimisticWriteInterrupted.
type Engine interface {
	Source

	// Write appends events in order. An empty batch is a no-op.
	Write(ctx context.Context, events []event.Event) error
}

// ReadResult holds the events decoded from one segment range.
type ReadResult struct {
	// Events are the decoded events in stored order, with Position set.
	Events []event.Event

	// EndOffset is the offset just past the last complete line read.
	// Advancing a cursor to it never skips a fully written event.
	EndOffset int64

	// Errors holds lines that could not be decoded. They were skipped.
	Errors []*elerrors.DecodeError
}

var _ Engine = (*Log)(nil)
