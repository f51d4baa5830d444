package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	elerrors "github.com/randalmurphal/eventlog/pkg/eventlog/errors"
)

const (
	// FieldSeparator separates the fields of a stored line.
	FieldSeparator = '\t'

	// RecordSeparator terminates a stored line.
	RecordSeparator = '\n'

	// TimeLayout is the stored timestamp format (yyyyMMddTHHmmssZ, UTC).
	TimeLayout = "20060102T150405Z"

	fieldCount = 5
)

// PayloadCodec serializes payload bodies. Implementations must never emit
// a raw tab or newline.
type PayloadCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default PayloadCodec.
type JSONCodec struct{}

// Marshal implements PayloadCodec.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements PayloadCodec.
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Codec converts events to and from stored lines.
type Codec struct {
	registry *Registry
	payload  PayloadCodec
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithPayloadCodec replaces the JSON payload codec.
func WithPayloadCodec(pc PayloadCodec) CodecOption {
	return func(c *Codec) {
		if pc != nil {
			c.payload = pc
		}
	}
}

// NewCodec creates a codec resolving types through registry.
func NewCodec(registry *Registry, opts ...CodecOption) *Codec {
	if registry == nil {
		registry = NewRegistry()
	}
	c := &Codec{registry: registry, payload: JSONCodec{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry used for type resolution.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode renders e as one newline-terminated line.
func (c *Codec) Encode(e Event) ([]byte, error) {
	if e.AggregateID == "" {
		return nil, errors.New("encode event: aggregate id is required")
	}
	if strings.ContainsAny(e.AggregateID, "\t\n\r") {
		return nil, fmt.Errorf("encode event: aggregate id %q contains a separator", e.AggregateID)
	}

	typeName := NormalizeName(e.Type)
	if typeName == "" {
		name, ok := c.registry.NameOf(e.Payload)
		if !ok {
			return nil, fmt.Errorf("encode event: no registered type for payload %T", e.Payload)
		}
		typeName = name
	}
	if strings.ContainsAny(typeName, "\t\n\r") {
		return nil, fmt.Errorf("encode event: type %q contains a separator", typeName)
	}

	payload, err := c.marshalPayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typeName, err)
	}

	md := e.Metadata
	if md == nil {
		md = map[string]string{}
	}
	meta, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode %s metadata: %w", typeName, err)
	}

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	var buf bytes.Buffer
	buf.Grow(len(e.AggregateID) + len(TimeLayout) + len(typeName) + len(payload) + len(meta) + fieldCount)
	buf.WriteString(e.AggregateID)
	buf.WriteByte(FieldSeparator)
	buf.WriteString(at.UTC().Format(TimeLayout))
	buf.WriteByte(FieldSeparator)
	buf.WriteString(typeName)
	buf.WriteByte(FieldSeparator)
	buf.Write(payload)
	buf.WriteByte(FieldSeparator)
	buf.Write(meta)
	buf.WriteByte(RecordSeparator)
	return buf.Bytes(), nil
}

func (c *Codec) marshalPayload(payload any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch p := payload.(type) {
	case nil:
		data = []byte("{}")
	case Raw:
		data = p.Data
		if len(data) == 0 {
			data = []byte("{}")
		}
	default:
		data, err = c.payload.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	if bytes.ContainsAny(data, "\t\n\r") {
		return nil, errors.New("serialized payload contains a separator")
	}
	return data, nil
}

// Decode parses one line (with or without its trailing newline).
// Failures are returned as *errors.DecodeError.
func (c *Codec) Decode(line []byte) (Event, error) {
	line = bytes.TrimRight(line, "\r\n")
	fields := bytes.Split(line, []byte{FieldSeparator})
	if len(fields) != fieldCount {
		return Event{}, decodeErr(line, fmt.Sprintf("expected %d fields, got %d", fieldCount, len(fields)), nil)
	}

	id := string(fields[0])
	if id == "" {
		return Event{}, decodeErr(line, "empty aggregate id", nil)
	}

	at, err := time.Parse(TimeLayout, string(fields[1]))
	if err != nil {
		return Event{}, decodeErr(line, "malformed timestamp", err)
	}

	typeName := NormalizeName(string(fields[2]))
	if typeName == "" {
		return Event{}, decodeErr(line, "empty type name", nil)
	}

	data := bytes.Clone(fields[3])
	var payload any
	if dec, ok := c.registry.Resolve(typeName); ok {
		payload, err = dec(data, c.payload)
		if err != nil {
			return Event{}, decodeErr(line, "payload of "+typeName, err)
		}
	} else {
		payload = Raw{Type: typeName, Data: json.RawMessage(data)}
	}

	md := map[string]string{}
	if len(fields[4]) > 0 {
		if err := json.Unmarshal(fields[4], &md); err != nil {
			return Event{}, decodeErr(line, "metadata", err)
		}
	}

	return Event{
		AggregateID: id,
		At:          at.UTC(),
		Type:        typeName,
		Payload:     payload,
		Metadata:    md,
	}, nil
}

func decodeErr(line []byte, reason string, err error) *elerrors.DecodeError {
	return &elerrors.DecodeError{Line: string(line), Reason: reason, Err: err}
}

// Batch is the result of decoding a block of stored bytes.
type Batch struct {
	// Events holds the decoded events in stored order.
	Events []Event

	// Errors holds one entry per malformed line.
	Errors []*elerrors.DecodeError

	// End is the offset just past the last complete line. A trailing
	// partial line is excluded.
	End int64
}

// DecodeAll decodes every complete line in data, which was read from
// segment starting at byte offset base. Blank lines are skipped.
func (c *Codec) DecodeAll(data []byte, segment uint64, base int64) Batch {
	b := Batch{End: base}
	pos := 0
	for pos < len(data) {
		idx := bytes.IndexByte(data[pos:], RecordSeparator)
		if idx < 0 {
			break
		}
		line := data[pos : pos+idx]
		offset := base + int64(pos)
		pos += idx + 1
		b.End = base + int64(pos)

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		evt, err := c.Decode(line)
		if err != nil {
			var de *elerrors.DecodeError
			if !errors.As(err, &de) {
				de = decodeErr(line, "decode", err)
			}
			de.Segment = segment
			de.Offset = offset
			b.Errors = append(b.Errors, de)
			continue
		}
		evt.Position = Position{Segment: segment, Offset: offset}
		b.Events = append(b.Events, evt)
	}
	return b
}
