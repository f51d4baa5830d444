package event

import (
	"context"
	"sync"
)

// ErrorSink receives errors that are reported rather than returned:
// malformed stored lines and failing projection handlers.
type ErrorSink interface {
	Report(ctx context.Context, err error)
}

// SinkFunc adapts a function to ErrorSink.
type SinkFunc func(ctx context.Context, err error)

// Report implements ErrorSink.
func (f SinkFunc) Report(ctx context.Context, err error) { f(ctx, err) }

// MemorySink keeps reported errors in memory, oldest first.
// Suitable for testing and for surfacing recent failures.
type MemorySink struct {
	mu      sync.RWMutex
	errs    []error
	maxSize int
	dropped int64
}

// DefaultSinkSize bounds a MemorySink created with a non-positive size.
const DefaultSinkSize = 1000

// NewMemorySink creates a sink holding at most maxSize errors. Once full,
// the oldest errors are dropped.
func NewMemorySink(maxSize int) *MemorySink {
	if maxSize <= 0 {
		maxSize = DefaultSinkSize
	}
	return &MemorySink{maxSize: maxSize}
}

// Report implements ErrorSink.
func (s *MemorySink) Report(_ context.Context, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.errs) >= s.maxSize {
		s.errs = s.errs[1:]
		s.dropped++
	}
	s.errs = append(s.errs, err)
}

// Errors returns a copy of the retained errors.
func (s *MemorySink) Errors() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]error(nil), s.errs...)
}

// Len returns the number of retained errors.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.errs)
}

// Dropped returns how many errors were evicted because the sink was full.
func (s *MemorySink) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Reset clears the sink.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = nil
	s.dropped = 0
}

// multiSink fans a report out to several sinks.
type multiSink []ErrorSink

func (m multiSink) Report(ctx context.Context, err error) {
	for _, s := range m {
		if s != nil {
			s.Report(ctx, err)
		}
	}
}

// Tee returns a sink that reports to every non-nil sink in order.
func Tee(sinks ...ErrorSink) ErrorSink {
	return multiSink(sinks)
}
