package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotFound indicates an aggregate, projection or object is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a duplicate creation attempt.
	ErrAlreadyExists = errors.New("already exists")

	// ErrOptimisticWriteInterrupted indicates a concurrent writer changed an
	// aggregate between read and write. Only table-backed engines with
	// per-aggregate concurrency control return it.
	ErrOptimisticWriteInterrupted = errors.New("optimistic write interrupted")
)

// SegmentFullError reports that a segment reached its target write count.
// The event log recovers by rolling to the next segment.
type SegmentFullError struct {
	Segment uint64
	Writes  int
	Target  int
}

// Error implements the error interface.
func (e *SegmentFullError) Error() string {
	return fmt.Sprintf("segment %d is full: %d writes, target %d", e.Segment, e.Writes, e.Target)
}

// TransactionTooLargeError reports an append larger than the backend's
// atomic block limit.
type TransactionTooLargeError struct {
	Size  int
	Limit int
}

// Error implements the error interface.
func (e *TransactionTooLargeError) Error() string {
	return fmt.Sprintf("transaction of %d bytes exceeds the %d byte append limit", e.Size, e.Limit)
}

// DecodeError reports a stored line that could not be decoded.
type DecodeError struct {
	Segment uint64
	Offset  int64
	Line    string
	Reason  string
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode segment %d at offset %d: %s", e.Segment, e.Offset, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MissingIndexError reports a query on a field with no declared index.
type MissingIndexError struct {
	Projection string
	Field      string
}

// Error implements the error interface.
func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("projection %s has no index on field %q", e.Projection, e.Field)
}

// ReadRaceError reports that a read kept observing an object that was not
// yet consistent with a completed append.
type ReadRaceError struct {
	Name     string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ReadRaceError) Error() string {
	return fmt.Sprintf("read %s: not consistent after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReadRaceError) Unwrap() error {
	return e.Err
}

// HandlerError reports a projection handler that failed or panicked while
// applying one event.
type HandlerError struct {
	Projection  string
	AggregateID string
	EventType   string
	Err         error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("projection %s: handler for %s on %s: %v",
		e.Projection, e.EventType, e.AggregateID, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}
