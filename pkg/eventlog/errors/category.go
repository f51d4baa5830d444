// Package errors defines the error taxonomy shared by the event log, the
// segment store and the projection engine, plus the bounded retry policy
// used for reads that race a concurrent append.
//
// Backend failures are wrapped into these types rather than leaked
// verbatim, so callers can branch with errors.Is / errors.As:
//
//	var full *elerrors.SegmentFullError
//	if errors.As(err, &full) {
//	    // roll to full.Segment + 1
//	}
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates a retry will likely help.
	// Examples: a read racing an append that is not yet visible.
	CategoryTransient Category = iota

	// CategoryPermanent indicates a retry won't help.
	// Examples: oversized transactions, malformed lines, missing indexes.
	CategoryPermanent

	// CategoryRecoverable indicates the caller can recover locally without
	// surfacing the error, e.g. rolling to the next segment.
	CategoryRecoverable
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var raceErr *ReadRaceError
	if errors.As(err, &raceErr) {
		return CategoryTransient
	}

	var fullErr *SegmentFullError
	if errors.As(err, &fullErr) {
		return CategoryRecoverable
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
