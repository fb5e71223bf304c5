package codec

import (
	"reflect"
	"time"

	"github.com/wippyai/wasm-interop/handle"
)

// Kind is the boundary category of a value. Every Go type maps to exactly
// one kind.
type Kind uint8

const (
	KindOpaque Kind = iota
	KindNumber
	KindBool
	KindText
	KindDate
	KindVoid
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindVoid:
		return "void"
	default:
		return "opaque"
	}
}

// Char is a single character. It maps to text, unlike rune, which Go cannot
// tell apart from int32.
type Char rune

// ByteRef stands in for a byte buffer delivered out of band through the
// transfer channel.
type ByteRef struct {
	ID int64
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	charType  = reflect.TypeOf(Char(0))
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// KindOf maps a Go type to its boundary kind. A nil type is void.
func KindOf(t reflect.Type) Kind {
	if t == nil {
		return KindVoid
	}
	if t == timeType {
		return KindDate
	}
	if t == charType {
		return KindText
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return KindNumber
	case reflect.Bool:
		return KindBool
	case reflect.String:
		return KindText
	default:
		return KindOpaque
	}
}

// KindFor returns the boundary kind of T.
func KindFor[T any]() Kind {
	return KindOf(reflect.TypeOf((*T)(nil)).Elem())
}

// TypeInfo describes a parameter or result in a method table.
type TypeInfo struct {
	Kind      Kind
	Awaitable bool
	GoType    string
}

// Describe builds the TypeInfo for t. Async results are described as
// awaitable of the underlying kind.
func Describe(t reflect.Type, async bool) TypeInfo {
	info := TypeInfo{Kind: KindOf(t), Awaitable: async}
	if t != nil {
		info.GoType = t.String()
	}
	return info
}

// DescribeFor is Describe for a type parameter.
func DescribeFor[T any](async bool) TypeInfo {
	return Describe(reflect.TypeOf((*T)(nil)).Elem(), async)
}

func (i TypeInfo) String() string {
	if i.Awaitable {
		return "awaitable<" + i.Kind.String() + ">"
	}
	return i.Kind.String()
}

// isRef reports whether v is a token that stands for a value on one side.
func isRef(v any) bool {
	switch v.(type) {
	case handle.Ref, ByteRef:
		return true
	}
	return false
}
