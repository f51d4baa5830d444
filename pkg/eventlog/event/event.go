package event

import (
	"encoding/json"
	"maps"
	"time"
)

// Position identifies where an event was read from.
type Position struct {
	// Segment is the segment sequence number.
	Segment uint64

	// Offset is the byte offset of the event's line within the segment.
	Offset int64
}

// Event is a single domain event for one aggregate.
type Event struct {
	// AggregateID identifies the stream this event belongs to.
	AggregateID string

	// At is when the event occurred. Stored with second precision in UTC.
	At time.Time

	// Type is the upper-case logical type name. When empty on write it is
	// looked up from the payload's registered Go type.
	Type string

	// Payload is the typed body, or a Raw value when the type is unknown.
	Payload any

	// Metadata carries free-form string pairs alongside the payload.
	Metadata map[string]string

	// Position is set on events read back from the log.
	Position Position
}

// New creates an event for aggregateID stamped with the current time.
func New(aggregateID string, payload any) Event {
	return Event{
		AggregateID: aggregateID,
		At:          time.Now().UTC().Truncate(time.Second),
		Payload:     payload,
		Metadata:    map[string]string{},
	}
}

// WithMetadata returns a copy of e with key set to value.
func (e Event) WithMetadata(key, value string) Event {
	md := make(map[string]string, len(e.Metadata)+1)
	maps.Copy(md, e.Metadata)
	md[key] = value
	e.Metadata = md
	return e
}

// WithTime returns a copy of e occurring at t.
func (e Event) WithTime(t time.Time) Event {
	e.At = t.UTC().Truncate(time.Second)
	return e
}

// Raw is the payload of an event whose type is not registered.
type Raw struct {
	Type string
	Data json.RawMessage
}
