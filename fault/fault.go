package fault

import (
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interop/errors"
)

// Generic kinds for faults that carry no taxonomy kind of their own.
const (
	KindError = "Error"
	KindPanic = "Panic"
)

// CrossBoundaryError is the immutable form of a fault as it crosses the
// boundary.
type CrossBoundaryError struct {
	Kind    string
	Message string
	Trace   string
}

// Kinder is implemented by errors that name their own fault kind.
type Kinder interface {
	FaultKind() string
}

// Capture converts err into its cross-boundary form. Taxonomy errors keep
// their kind, errors implementing Kinder supply theirs, and anything else is
// reported with KindError. A fault that already crossed once is passed on
// unchanged.
func Capture(err error) *CrossBoundaryError {
	if err == nil {
		return nil
	}

	var remote *RemoteError
	if stderrors.As(err, &remote) {
		return remote.Fault
	}

	var k Kinder
	if stderrors.As(err, &k) {
		return &CrossBoundaryError{Kind: k.FaultKind(), Message: err.Error()}
	}

	var e *errors.Error
	if stderrors.As(err, &e) && errors.IsTaxonomy(string(e.Kind)) {
		return &CrossBoundaryError{Kind: string(e.Kind), Message: e.Message()}
	}

	return &CrossBoundaryError{Kind: KindError, Message: err.Error()}
}

// CapturePanic converts a recovered panic value, recording the goroutine
// trace at the point of recovery.
func CapturePanic(v any) *CrossBoundaryError {
	if err, ok := v.(error); ok {
		cbe := Capture(err)
		return &CrossBoundaryError{Kind: KindPanic, Message: cbe.Message, Trace: trace()}
	}
	return &CrossBoundaryError{Kind: KindPanic, Message: fmt.Sprint(v), Trace: trace()}
}

func trace() string {
	return zap.StackSkip("", 3).String
}

// Guard runs fn and captures any error or panic it produces.
func Guard(fn func() error) (cbe *CrossBoundaryError) {
	defer func() {
		if r := recover(); r != nil {
			cbe = CapturePanic(r)
		}
	}()
	return Capture(fn())
}

// Encode renders the fault as "<kind>: <message>", followed by a newline and
// the trace when one was recorded.
func (c *CrossBoundaryError) Encode() string {
	var b strings.Builder
	b.WriteString(c.Kind)
	b.WriteString(": ")
	b.WriteString(c.Message)
	if c.Trace != "" {
		b.WriteByte('\n')
		b.WriteString(c.Trace)
	}
	return b.String()
}

// Parse reverses Encode. A first line without a kind prefix is treated as a
// message of KindError.
func Parse(s string) *CrossBoundaryError {
	first, rest, _ := strings.Cut(s, "\n")
	kind, msg, ok := strings.Cut(first, ": ")
	if !ok || kind == "" || strings.ContainsAny(kind, " \t") {
		return &CrossBoundaryError{Kind: KindError, Message: first, Trace: rest}
	}
	return &CrossBoundaryError{Kind: kind, Message: msg, Trace: rest}
}

// Raise turns a received fault into an error for the local caller.
func Raise(c *CrossBoundaryError) error {
	if c == nil {
		return nil
	}
	return &RemoteError{Fault: c}
}

// RemoteError is a fault raised by the other side's own logic.
type RemoteError struct {
	Fault *CrossBoundaryError
}

// Error returns the encoded fault; its first line is "<kind>: <message>".
func (e *RemoteError) Error() string {
	return e.Fault.Encode()
}

// Kind returns the fault kind as reported by the other side.
func (e *RemoteError) Kind() string {
	return e.Fault.Kind
}

// Message returns the originating message.
func (e *RemoteError) Message() string {
	return e.Fault.Message
}

// Is matches errors.ErrRemoteFault, and the taxonomy sentinel of the
// fault's own kind.
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*errors.Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != errors.PhaseRemote {
		return false
	}
	if t.Kind == errors.KindRemoteFault {
		return true
	}
	return errors.IsTaxonomy(e.Fault.Kind) && string(t.Kind) == e.Fault.Kind
}
