// Package event defines the stored event model and its line encoding.
//
// # Overview
//
// Every event is stored as one tab-separated line:
//
//	<aggregateId>\t<yyyyMMddTHHmmssZ>\t<TYPE>\t<payload-json>\t<metadata-json>\n
//
// A Registry maps upper-case logical type names to payload decoders. It is
// an explicit object owned by whoever builds the Codec; there is no
// process-wide registry.
//
//	reg := event.NewRegistry()
//	event.MustRegisterType[CakeIced](reg, "CakeIced")
//
//	codec := event.NewCodec(reg)
//	line, err := codec.Encode(event.New("A1", CakeIced{Color: "BLUE"}))
//
// # Unknown Types
//
// Decoding never refuses a line because its type is not registered. The
// payload is delivered as a Raw value instead, so a reader that lags
// behind a writer's schema keeps replaying the rest of the log.
//
// # Malformed Lines
//
// DecodeAll reports malformed lines as *errors.DecodeError values in the
// returned batch and keeps going. A trailing line without a newline is a
// write in progress; it is neither decoded nor counted in Batch.End.
package event
