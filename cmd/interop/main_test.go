package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/config"
	"github.com/wippyai/wasm-interop/dispatch"
	"github.com/wippyai/wasm-interop/internal/sample"
)

func TestParseArgs(t *testing.T) {
	params := []codec.TypeInfo{
		{Kind: codec.KindText},
		{Kind: codec.KindNumber},
		{Kind: codec.KindBool},
		{Kind: codec.KindDate},
	}
	args, err := parseArgs([]string{"hi", "2.5", "true", "2020-02-28T00:00:00Z"}, params)
	require.NoError(t, err)
	assert.Equal(t, "hi", args[0])
	assert.Equal(t, 2.5, args[1])
	assert.Equal(t, true, args[2])
	assert.Equal(t, time.Date(2020, 2, 28, 0, 0, 0, 0, time.UTC), args[3])

	_, err = parseArgs([]string{"x"}, params)
	assert.Error(t, err)

	_, err = parseArgs([]string{"nan?"}, params[1:2])
	assert.Error(t, err)
}

func TestSplitArgs(t *testing.T) {
	assert.Nil(t, splitArgs(""))
	assert.Equal(t, []string{"a", "b"}, splitArgs("a,b"))
}

func TestSignature(t *testing.T) {
	m := dispatch.MethodInfo{
		Name:   "JoinStringsAsync",
		Params: []codec.TypeInfo{{Kind: codec.KindText}, {Kind: codec.KindText}},
		Result: codec.TypeInfo{Kind: codec.KindText, Awaitable: true},
	}
	assert.Equal(t, "JoinStringsAsync(text, text) -> awaitable<text>", signature(m))
}

func TestCall(t *testing.T) {
	ctx := context.Background()
	rt, err := newRuntime(ctx, config.Default(), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close(ctx)

	out, err := call(ctx, rt, time.Second, sample.AssemblyName, "JoinStrings", false, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "ab", out)

	out, err = call(ctx, rt, time.Second, sample.AssemblyName, "JoinStringsAsync", true, []any{"c", "d"})
	require.NoError(t, err)
	assert.Equal(t, "cd", out)

	out, err = call(ctx, rt, time.Second, sample.AssemblyName, "InvokeJS", false, []any{"echo", "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ping", out)
}
