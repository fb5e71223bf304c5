package codec

import (
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/handle"
)

// CBOR tag numbers for boundary tokens.
const (
	TagHandleRef = 40001
	TagByteRef   = 40002
)

// maxExactInt is the largest integer magnitude a float64 holds exactly.
const maxExactInt = 1<<53 - 1

// Codec encodes argument lists and results as CBOR. Numbers travel as
// float64, dates as tagged RFC 3339 strings with nanoseconds, and handle and
// byte references as registered tags.
type Codec struct {
	em cbor.EncMode
	dm cbor.DecMode
}

// New builds a codec with the boundary tag set registered.
func New() (*Codec, error) {
	tags := cbor.NewTagSet()
	opts := cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}
	if err := tags.Add(opts, reflect.TypeOf(handle.Ref{}), TagHandleRef); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "register handle ref tag")
	}
	if err := tags.Add(opts, reflect.TypeOf(ByteRef{}), TagByteRef); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "register byte ref tag")
	}

	em, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncModeWithTags(tags)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "create CBOR enc mode")
	}

	dm, err := cbor.DecOptions{
		TimeTag:        cbor.DecTagRequired,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecModeWithTags(tags)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "create CBOR dec mode")
	}

	return &Codec{em: em, dm: dm}, nil
}

var std *Codec

func init() {
	c, err := New()
	if err != nil {
		panic("codec: " + err.Error())
	}
	std = c
}

// Default returns the shared codec.
func Default() *Codec {
	return std
}

// Encode normalizes args and encodes them as one CBOR array.
func (c *Codec) Encode(args []any) ([]byte, error) {
	norm := make([]any, len(args))
	for i, a := range args {
		v, err := normalize(a, []string{"args", strconv.Itoa(i)})
		if err != nil {
			return nil, err
		}
		norm[i] = v
	}
	data, err := c.em.Marshal(norm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "encode arguments")
	}
	return data, nil
}

// EncodeValue normalizes and encodes a single value.
func (c *Codec) EncodeValue(v any) ([]byte, error) {
	norm, err := normalize(v, []string{"result"})
	if err != nil {
		return nil, err
	}
	data, err := c.em.Marshal(norm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "encode value")
	}
	return data, nil
}

// Decode decodes an argument list. When kinds is non-nil it must match the
// list length and each element is decoded as its declared kind.
func (c *Codec) Decode(data []byte, kinds []Kind) ([]any, error) {
	var raw []cbor.RawMessage
	if err := c.dm.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "decode arguments")
	}
	if kinds != nil && len(kinds) != len(raw) {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			Detail("expected %d argument(s), got %d", len(kinds), len(raw)).
			Build()
	}

	out := make([]any, len(raw))
	for i, r := range raw {
		kind := KindOpaque
		if kinds != nil {
			kind = kinds[i]
		}
		v, err := c.decode(r, kind, []string{"args", strconv.Itoa(i)})
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// DecodeValue decodes a single value of the given kind.
func (c *Codec) DecodeValue(data []byte, kind Kind) (any, error) {
	return c.decode(data, kind, []string{"result"})
}

func (c *Codec) decode(data []byte, kind Kind, path []string) (any, error) {
	var (
		v   any
		err error
	)
	switch kind {
	case KindVoid:
		return nil, nil
	case KindNumber:
		var f *float64
		err = c.dm.Unmarshal(data, &f)
		if err == nil && f != nil {
			v = *f
		}
	case KindBool:
		var b *bool
		err = c.dm.Unmarshal(data, &b)
		if err == nil && b != nil {
			v = *b
		}
	case KindText:
		var s *string
		err = c.dm.Unmarshal(data, &s)
		if err == nil && s != nil {
			v = *s
		}
	case KindDate:
		var t *time.Time
		err = c.dm.Unmarshal(data, &t)
		if err == nil && t != nil {
			v = *t
		}
	default:
		var x any
		err = c.dm.Unmarshal(data, &x)
		if err == nil {
			v = revive(x)
		}
	}
	if err != nil {
		e := errors.TypeMismatch(errors.PhaseDecode, path, "", kind.String())
		e.Cause = err
		return nil, e
	}
	return v, nil
}

// normalize converts every numeric kind to float64 and characters to text.
func normalize(v any, path []string) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, float64, time.Time, handle.Ref, ByteRef:
		return x, nil
	case Char:
		return string(rune(x)), nil
	case float32:
		return float64(x), nil
	case int:
		return fromInt(int64(x), path)
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return fromInt(x, path)
	case uint:
		return fromUint(uint64(x), path)
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return fromUint(x, path)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalize(e, sub(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := normalize(e, sub(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return normalizeValue(reflect.ValueOf(v), path)
	}
}

// normalizeValue handles typed containers and named scalar types so their
// integers pass the same range check as bare ones. Byte slices stay bytes.
func normalizeValue(rv reflect.Value, path []string) (any, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fromInt(rv.Int(), path)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fromUint(rv.Uint(), path)
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface(), nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			n, err := normalize(rv.Index(i).Interface(), sub(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errors.TypeMismatch(errors.PhaseEncode, path, rv.Type().String(), "a map with text keys")
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			n, err := normalize(iter.Value().Interface(), sub(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface(), path)
	default:
		return rv.Interface(), nil
	}
}

func fromInt(i int64, path []string) (any, error) {
	if i > maxExactInt || i < -maxExactInt {
		return nil, overflow(i, path)
	}
	return float64(i), nil
}

func fromUint(u uint64, path []string) (any, error) {
	if u > maxExactInt {
		return nil, overflow(u, path)
	}
	return float64(u), nil
}

func overflow(v any, path []string) error {
	return errors.New(errors.PhaseEncode, errors.KindRangeOverflow).
		Path(path...).
		Value(v).
		Detail("%v cannot be represented exactly as a number", v).
		Build()
}

// revive walks a value decoded without a declared kind and folds every
// integer back to float64.
func revive(v any) any {
	switch x := v.(type) {
	case uint64:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		for i, e := range x {
			x[i] = revive(e)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = revive(e)
		}
		return x
	default:
		return v
	}
}

// Walk calls fn for every handle or byte reference inside v and replaces it
// with the returned value.
func Walk(v any, fn func(ref any) (any, error)) (any, error) {
	if isRef(v) {
		return fn(v)
	}
	switch x := v.(type) {
	case []any:
		for i, e := range x {
			n, err := Walk(e, fn)
			if err != nil {
				return nil, err
			}
			x[i] = n
		}
		return x, nil
	case map[string]any:
		for k, e := range x {
			n, err := Walk(e, fn)
			if err != nil {
				return nil, err
			}
			x[k] = n
		}
		return x, nil
	default:
		return v, nil
	}
}

func sub(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

// isIntegral reports whether f has no fractional part.
func isIntegral(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0)
}
