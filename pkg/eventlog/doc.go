// Package eventlog is an append-only event log stored as segments on an
// object store, with typed projections derived by replaying it.
//
// The Log writes batches of events as tab-separated lines into the open
// segment and rolls over to the next one when a segment reaches its write
// target. Readers track how far they have consumed each segment with a
// Cursor and fetch only what was appended since.
//
// Basic usage:
//
//	reg := event.NewRegistry()
//	event.MustRegisterType[CakeBaked](reg, "CAKEBAKED")
//
//	blobs := blob.NewMemoryStore()
//	log := eventlog.New(segment.New(blobs), event.NewCodec(reg))
//
//	err := log.Write(ctx, []event.Event{event.New("A1", CakeBaked{})})
//
// Projections over the log live in package projection.
//
// # Error Handling
//
// Write surfaces *errors.TransactionTooLargeError when a single event does
// not fit in one append; segment-full conditions are handled internally.
// Malformed stored lines never fail a read: they are skipped, returned in
// ReadResult.Errors and reported to the configured event.ErrorSink.
package eventlog
