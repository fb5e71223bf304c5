package fault

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interop/errors"
)

type customErr struct{}

func (customErr) Error() string     { return "disk on fire" }
func (customErr) FaultKind() string { return "IOException" }

func TestCapture(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, Capture(nil))
	})

	t.Run("plain error", func(t *testing.T) {
		cbe := Capture(stderrors.New("boom"))
		assert.Equal(t, KindError, cbe.Kind)
		assert.Equal(t, "boom", cbe.Message)
	})

	t.Run("taxonomy error keeps kind", func(t *testing.T) {
		cbe := Capture(fmt.Errorf("wrapped: %w", errors.DoubleFree(errors.PhaseHandle, 4)))
		assert.Equal(t, "double_free", cbe.Kind)
		assert.Equal(t, "handle 4 was already disposed", cbe.Message)
	})

	t.Run("custom kind", func(t *testing.T) {
		cbe := Capture(customErr{})
		assert.Equal(t, "IOException", cbe.Kind)
		assert.Equal(t, "disk on fire", cbe.Message)
	})

	t.Run("remote passes through", func(t *testing.T) {
		orig := &CrossBoundaryError{Kind: "Error", Message: "from far away", Trace: "at X"}
		assert.Same(t, orig, Capture(fmt.Errorf("ctx: %w", Raise(orig))))
	})
}

func TestGuard(t *testing.T) {
	assert.Nil(t, Guard(func() error { return nil }))

	cbe := Guard(func() error { return stderrors.New("bad") })
	require.NotNil(t, cbe)
	assert.Equal(t, "Error: bad", cbe.Encode())

	cbe = Guard(func() error { panic("kaboom") })
	require.NotNil(t, cbe)
	assert.Equal(t, KindPanic, cbe.Kind)
	assert.Equal(t, "kaboom", cbe.Message)
	assert.NotEmpty(t, cbe.Trace)
	assert.True(t, strings.HasPrefix(cbe.Encode(), "Panic: kaboom\n"))
}

func TestEncodeParse(t *testing.T) {
	tests := []struct {
		name string
		in   CrossBoundaryError
		wire string
	}{
		{"no trace", CrossBoundaryError{Kind: "Error", Message: "oops"}, "Error: oops"},
		{"with trace", CrossBoundaryError{Kind: "Panic", Message: "x", Trace: "a\nb"}, "Panic: x\na\nb"},
		{"colon in message", CrossBoundaryError{Kind: "lookup", Message: "key: value"}, "lookup: key: value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.in.Encode())
			assert.Equal(t, tt.in, *Parse(tt.wire))
		})
	}

	t.Run("no kind prefix", func(t *testing.T) {
		got := Parse("something went wrong: badly")
		assert.Equal(t, KindError, got.Kind)
		assert.Equal(t, "something went wrong: badly", got.Message)
	})
}

func TestRaise(t *testing.T) {
	assert.Nil(t, Raise(nil))

	err := Raise(&CrossBoundaryError{Kind: "double_free", Message: "handle 2 was already disposed", Trace: "trace"})
	assert.Equal(t, "double_free: handle 2 was already disposed", strings.SplitN(err.Error(), "\n", 2)[0])
	assert.ErrorIs(t, err, errors.ErrRemoteFault)
	assert.ErrorIs(t, err, errors.ErrDoubleFree)
	assert.NotErrorIs(t, err, errors.ErrUnknownHandle)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "double_free", remote.Kind())
	assert.Equal(t, "handle 2 was already disposed", remote.Message())

	custom := Raise(&CrossBoundaryError{Kind: "InvalidOperationException", Message: "nope"})
	assert.ErrorIs(t, custom, errors.ErrRemoteFault)
	assert.NotErrorIs(t, custom, errors.ErrLookup)
}
