package codec

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wasmerrors "github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/handle"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		typ  reflect.Type
		want Kind
	}{
		{reflect.TypeOf(int8(0)), KindNumber},
		{reflect.TypeOf(uint64(0)), KindNumber},
		{reflect.TypeOf(float32(0)), KindNumber},
		{reflect.TypeOf(rune(0)), KindNumber},
		{reflect.TypeOf(Char(0)), KindText},
		{reflect.TypeOf(""), KindText},
		{reflect.TypeOf(true), KindBool},
		{reflect.TypeOf(time.Time{}), KindDate},
		{reflect.TypeOf(struct{}{}), KindOpaque},
		{reflect.TypeOf([]byte(nil)), KindOpaque},
		{nil, KindVoid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.typ), "%v", tt.typ)
	}

	assert.Equal(t, KindNumber, KindFor[int]())
	assert.Equal(t, "awaitable<text>", DescribeFor[string](true).String())
	assert.Equal(t, "number", DescribeFor[float64](false).String())
}

func TestEncodeDecode_Numbers(t *testing.T) {
	c := Default()
	in := []any{int8(-8), int16(16), int32(-32), int64(64), int(-1),
		uint8(8), uint16(16), uint32(32), uint64(64), uint(1),
		float32(0.5), 2.75, maxExactInt}

	data, err := c.Encode(in)
	require.NoError(t, err)

	kinds := make([]Kind, len(in))
	for i := range kinds {
		kinds[i] = KindNumber
	}
	out, err := c.Decode(data, kinds)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	want := []float64{-8, 16, -32, 64, -1, 8, 16, 32, 64, 1, 0.5, 2.75, maxExactInt}
	for i, v := range out {
		f, ok := v.(float64)
		require.True(t, ok, "arg %d is %T", i, v)
		assert.Equal(t, want[i], f)
	}

	// Untyped decode also yields float64.
	untyped, err := c.Decode(data, nil)
	require.NoError(t, err)
	for i, v := range untyped {
		assert.IsType(t, float64(0), v, "arg %d", i)
	}
}

func TestEncode_Overflow(t *testing.T) {
	_, err := Default().Encode([]any{"ok", uint64(math.MaxUint64)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, wasmerrors.ErrRangeOverflow))

	var e *wasmerrors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"args", "1"}, e.Path)
}

func TestEncode_TypedContainerOverflow(t *testing.T) {
	type count int64
	tests := []struct {
		name string
		arg  any
		path []string
	}{
		{"int64 slice", []int64{1, 1<<53 + 1}, []string{"args", "0", "1"}},
		{"uint64 array", [2]uint64{math.MaxUint64, 0}, []string{"args", "0", "0"}},
		{"uint64 map", map[string]uint64{"big": 1 << 60}, []string{"args", "0", "big"}},
		{"named int", count(-(1 << 54)), []string{"args", "0"}},
		{"nested", []any{[]int64{0, 1 << 62}}, []string{"args", "0", "0", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Default().Encode([]any{tt.arg})
			require.ErrorIs(t, err, wasmerrors.ErrRangeOverflow)

			var e *wasmerrors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.path, e.Path)
		})
	}
}

func TestEncode_TypedContainers(t *testing.T) {
	type label string
	data, err := Default().Encode([]any{
		[]int32{1, -2},
		map[string]uint16{"a": 3},
		label("x"),
		[]byte{0xca, 0xfe},
		[]string(nil),
	})
	require.NoError(t, err)

	out, err := Default().Decode(data, nil)
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, []any{1.0, -2.0}, out[0])
	assert.Equal(t, map[string]any{"a": 3.0}, out[1])
	assert.Equal(t, "x", out[2])
	assert.Equal(t, []byte{0xca, 0xfe}, out[3])
	assert.Nil(t, out[4])

	_, err = Default().Encode([]any{map[int]string{1: "a"}})
	assert.ErrorIs(t, err, wasmerrors.ErrTypeMismatch)
}

func TestEncodeDecode_Date(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	when := time.Date(2024, 2, 29, 23, 59, 59, 123456789, loc)

	data, err := Default().Encode([]any{when})
	require.NoError(t, err)

	out, err := Default().Decode(data, []Kind{KindDate})
	require.NoError(t, err)
	got, ok := out[0].(time.Time)
	require.True(t, ok)
	assert.True(t, got.Equal(when), "got %v want %v", got, when)
	assert.Equal(t, when.UnixNano(), got.UnixNano())
}

func TestEncodeDecode_Refs(t *testing.T) {
	ref := handle.Ref{ID: 12, Kind: handle.KindObject, Owner: handle.SideGuest}
	data, err := Default().Encode([]any{ref, ByteRef{ID: 3}, map[string]any{"inner": ref}})
	require.NoError(t, err)

	out, err := Default().Decode(data, nil)
	require.NoError(t, err)
	assert.Equal(t, ref, out[0])
	assert.Equal(t, ByteRef{ID: 3}, out[1])
	assert.Equal(t, map[string]any{"inner": ref}, out[2])

	var seen []any
	replaced, err := Walk(out[2], func(r any) (any, error) {
		seen = append(seen, r)
		return "resolved", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{ref}, seen)
	assert.Equal(t, map[string]any{"inner": "resolved"}, replaced)
}

func TestDecode_Mismatch(t *testing.T) {
	data, err := Default().Encode([]any{"text", true})
	require.NoError(t, err)

	_, err = Default().Decode(data, []Kind{KindNumber, KindBool})
	assert.ErrorIs(t, err, wasmerrors.ErrTypeMismatch)

	_, err = Default().Decode(data, []Kind{KindText})
	assert.ErrorIs(t, err, wasmerrors.ErrInvalidInput)
}

func TestDecode_Nulls(t *testing.T) {
	data, err := Default().Encode([]any{nil, nil})
	require.NoError(t, err)

	out, err := Default().Decode(data, []Kind{KindText, KindOpaque})
	require.NoError(t, err)
	assert.Nil(t, out[0])
	assert.Nil(t, out[1])
}

func TestEncodeValue_Char(t *testing.T) {
	data, err := Default().EncodeValue(Char('é'))
	require.NoError(t, err)
	v, err := Default().DecodeValue(data, KindText)
	require.NoError(t, err)
	assert.Equal(t, "é", v)

	c, err := As[Char](v)
	require.NoError(t, err)
	assert.Equal(t, Char('é'), c)
}
