// Package blob provides the object storage the event log is built on:
// append blobs for segments and whole-object uploads for snapshots.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store is the backing object store.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateIfMissing creates an empty append blob named name.
	// Returns nil if it already exists.
	CreateIfMissing(ctx context.Context, name string) error

	// Append adds data as one block at the end of name.
	// Returns ErrNotFound if the blob doesn't exist, ErrBlockTooLarge if
	// data exceeds Limits().MaxAppendBytes and ErrTooManyBlocks when the
	// hard block ceiling is reached.
	Append(ctx context.Context, name string, data []byte) error

	// OpenReadAt opens name for reading from byte offset.
	// Returns ErrNotFound if the blob doesn't exist and ErrNotVisible when
	// the store observed a change mid-read and the caller should retry.
	OpenReadAt(ctx context.Context, name string, offset int64) (io.ReadCloser, error)

	// Properties returns metadata without reading content.
	// Returns ErrNotFound if the blob doesn't exist.
	Properties(ctx context.Context, name string) (Info, error)

	// List returns every blob whose name starts with prefix, ordered by name.
	// Returns empty slice (not error) if nothing matches.
	List(ctx context.Context, prefix string) ([]Info, error)

	// Upload stores data as the whole content of name.
	// Returns ErrExists if name exists and overwrite is false.
	Upload(ctx context.Context, name string, data []byte, overwrite bool) error

	// Download returns the whole content of name.
	// Returns ErrNotFound if the blob doesn't exist.
	Download(ctx context.Context, name string) ([]byte, error)

	// Limits reports the store's size ceilings.
	Limits() Limits

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading content.
type Info struct {
	Name     string
	Length   int64
	Blocks   int
	Modified time.Time
}

// Limits are the hard ceilings of a store.
type Limits struct {
	// MaxAppendBytes is the largest single append.
	MaxAppendBytes int

	// MaxBlocks is the largest number of appends one blob accepts.
	MaxBlocks int
}

// DefaultLimits mirror common cloud append-blob ceilings.
var DefaultLimits = Limits{
	MaxAppendBytes: 4 << 20,
	MaxBlocks:      50000,
}

// Sentinel errors for blob operations.
var (
	// ErrNotFound indicates a blob doesn't exist.
	ErrNotFound = errors.New("blob not found")

	// ErrExists indicates an upload without overwrite hit an existing blob.
	ErrExists = errors.New("blob already exists")

	// ErrNotVisible indicates a read raced a write that is not yet visible.
	ErrNotVisible = errors.New("blob changed during read")

	// ErrBlockTooLarge indicates an append larger than MaxAppendBytes.
	ErrBlockTooLarge = errors.New("append block too large")

	// ErrTooManyBlocks indicates a blob reached MaxBlocks.
	ErrTooManyBlocks = errors.New("append blob block limit reached")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("blob store closed")
)

// Option configures a store.
type Option func(*options)

type options struct {
	limits Limits
}

func defaultOptions() options {
	return options{limits: DefaultLimits}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLimits overrides the store ceilings. Non-positive fields keep defaults.
func WithLimits(l Limits) Option {
	return func(o *options) {
		if l.MaxAppendBytes > 0 {
			o.limits.MaxAppendBytes = l.MaxAppendBytes
		}
		if l.MaxBlocks > 0 {
			o.limits.MaxBlocks = l.MaxBlocks
		}
	}
}

func checkAppend(l Limits, data []byte, blocks int) error {
	if len(data) > l.MaxAppendBytes {
		return ErrBlockTooLarge
	}
	if blocks >= l.MaxBlocks {
		return ErrTooManyBlocks
	}
	return nil
}
