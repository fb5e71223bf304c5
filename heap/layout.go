package heap

// Managed object layout. Every heap object starts with a two-word header
// (vtable and sync block) that the host never interprets.
const (
	ObjectHeaderSize = 8

	// String objects: header, int32 length in UTF-16 code units, code units.
	StringLengthOffset = ObjectHeaderSize
	StringCharsOffset  = StringLengthOffset + 4

	// Single-dimension arrays: header, bounds pointer, int32 length, data.
	ArrayBoundsOffset = ObjectHeaderSize
	ArrayLengthOffset = ArrayBoundsOffset + 4
	ArrayDataOffset   = ArrayLengthOffset + 4

	// ObjectAlign is the alignment of every allocated object.
	ObjectAlign = 8
)

// MaxSafeHigh is the largest high word a uint64 may carry and still be
// exactly representable as a float64.
const MaxSafeHigh = 1<<21 - 1
