package eventlog

import (
	"context"
	"fmt"
	"maps"

	"github.com/randalmurphal/eventlog/pkg/eventlog/event"
)

// Cursor records, per segment, the offset up to which a reader has
// consumed the log. The zero value reads from the beginning.
// A Cursor is owned by one reader and is not safe for concurrent use.
type Cursor map[uint64]int64

// Clone returns an independent copy of c.
func (c Cursor) Clone() Cursor {
	out := make(Cursor, len(c))
	maps.Copy(out, c)
	return out
}

// Behind reports whether segment seg has grown past the cursor.
func (c Cursor) Behind(seg uint64, end int64) bool {
	return end > c[seg]
}

// Batch is the result of ReadNew.
type Batch struct {
	// Events from every segment that grew, in segment then offset order.
	Events []event.Event

	// Cursor is the advanced cursor. The input cursor is not modified.
	Cursor Cursor

	// DecodeErrors counts skipped lines.
	DecodeErrors int
}

// ReadNew reads everything appended since cursor. On error the returned
// batch holds the segments read before the failure and a cursor advanced
// only past them.
func ReadNew(ctx context.Context, src Source, cursor Cursor) (Batch, error) {
	b := Batch{Cursor: cursor.Clone()}

	slices, err := src.ListSlices(ctx)
	if err != nil {
		return b, err
	}
	for _, s := range slices {
		if !b.Cursor.Behind(s.Segment, s.EndOffset) {
			continue
		}
		res, err := src.ReadEvents(ctx, s.Segment, b.Cursor[s.Segment], s.EndOffset)
		if err != nil {
			return b, fmt.Errorf("read segment %d: %w", s.Segment, err)
		}
		b.Events = append(b.Events, res.Events...)
		b.DecodeErrors += len(res.Errors)
		b.Cursor[s.Segment] = res.EndOffset
	}
	return b, nil
}
