package codec

import (
	"fmt"
	"reflect"
	"time"

	"github.com/wippyai/wasm-interop/errors"
)

// As converts a decoded boundary value to T. Numbers arrive as float64 and
// are converted to any numeric T; integral targets reject fractional or
// out-of-range values.
func As[T any](v any) (T, error) {
	var zero T
	if t, ok := v.(T); ok {
		return t, nil
	}

	target := reflect.TypeOf((*T)(nil)).Elem()
	if v == nil {
		switch target.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			return zero, nil
		}
		return zero, mismatch(v, target)
	}

	out, err := convert(v, target)
	if err != nil {
		return zero, err
	}
	return out.Interface().(T), nil
}

func convert(v any, target reflect.Type) (reflect.Value, error) {
	switch x := v.(type) {
	case float64:
		return convertNumber(x, target)
	case string:
		if target == charType {
			r := []rune(x)
			if len(r) != 1 {
				return reflect.Value{}, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
					GoType(target.String()).
					Detail("expected a single character, got %d", len(r)).
					Build()
			}
			return reflect.ValueOf(Char(r[0])), nil
		}
		if target.Kind() == reflect.String {
			return reflect.ValueOf(x).Convert(target), nil
		}
	case bool:
		if target.Kind() == reflect.Bool {
			return reflect.ValueOf(x).Convert(target), nil
		}
	case time.Time:
		if target == timeType {
			return reflect.ValueOf(x), nil
		}
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		out := reflect.New(target).Elem()
		out.Set(rv)
		return out, nil
	}
	return reflect.Value{}, mismatch(v, target)
}

func convertNumber(f float64, target reflect.Type) (reflect.Value, error) {
	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.Float32, reflect.Float64:
		out.SetFloat(f)
		return out, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !isIntegral(f) || f > maxExactInt || f < -maxExactInt || out.OverflowInt(int64(f)) {
			return reflect.Value{}, notIntegral(f, target)
		}
		out.SetInt(int64(f))
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if !isIntegral(f) || f < 0 || f > maxExactInt || out.OverflowUint(uint64(f)) {
			return reflect.Value{}, notIntegral(f, target)
		}
		out.SetUint(uint64(f))
		return out, nil
	case reflect.Interface:
		if reflect.TypeOf(f).AssignableTo(target) {
			out.Set(reflect.ValueOf(f))
			return out, nil
		}
	}
	return reflect.Value{}, mismatch(f, target)
}

func notIntegral(f float64, target reflect.Type) error {
	return errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
		GoType(target.String()).
		Value(f).
		Detail("%v does not fit", f).
		Build()
}

func mismatch(v any, target reflect.Type) error {
	return errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
		GoType(target.String()).
		Value(v).
		Detail("cannot use %s value %s", KindOf(reflect.TypeOf(v)), describe(v)).
		Build()
}

func describe(v any) string {
	if v == nil {
		return "null"
	}
	s := fmt.Sprintf("%v", v)
	if len(s) > 32 {
		s = s[:32] + "..."
	}
	return s
}
