// Package codec maps Go values onto the boundary's fixed type categories and
// encodes argument lists as CBOR.
//
// # Type mapping
//
//	all integer and float kinds -> number (float64 on the wire and on receipt)
//	bool                        -> boolean
//	string, Char                -> text
//	time.Time                   -> date (absolute instant, RFC 3339 with nanoseconds)
//	anything else               -> opaque
//
// Asynchronous results are described as awaitable of the result kind.
//
// handle.Ref and ByteRef travel as registered CBOR tags, so they come back as
// the same Go types on the other side. Integers beyond 2^53 cannot be carried
// exactly and fail with RangeOverflow when encoded.
//
//	data, _ := codec.Default().Encode([]any{"foo", 3, time.Now()})
//	args, _ := codec.Default().Decode(data, []codec.Kind{codec.KindText, codec.KindNumber, codec.KindDate})
//	n, _ := codec.As[int](args[1])
package codec
