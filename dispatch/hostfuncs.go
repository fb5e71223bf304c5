package dispatch

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/handle"
)

// Call carries the arguments of a guest-to-host call.
type Call struct {
	Dispatcher *Dispatcher
	Args       []any
	Target     uint64
	Async      bool
}

// Arg returns argument i, or nil when the guest passed fewer.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// HostFunc handles a guest-to-host call.
type HostFunc func(ctx context.Context, call *Call) (any, error)

// RawFunc handles an unmarshalled guest-to-host call: no payload, three raw
// i32 arguments and an i32 result.
type RawFunc func(ctx context.Context, a0, a1, a2 int32) (int32, error)

// Func0 adapts a typed function with no arguments.
func Func0[R any](fn func(ctx context.Context) (R, error)) HostFunc {
	return func(ctx context.Context, _ *Call) (any, error) {
		return fn(ctx)
	}
}

// Func1 adapts a typed function with one argument.
func Func1[A, R any](fn func(ctx context.Context, a A) (R, error)) HostFunc {
	return func(ctx context.Context, call *Call) (any, error) {
		a, err := argAs[A](call, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}
}

// Func2 adapts a typed function with two arguments.
func Func2[A, B, R any](fn func(ctx context.Context, a A, b B) (R, error)) HostFunc {
	return func(ctx context.Context, call *Call) (any, error) {
		a, err := argAs[A](call, 0)
		if err != nil {
			return nil, err
		}
		b, err := argAs[B](call, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
}

func argAs[T any](call *Call, i int) (T, error) {
	v, err := codec.As[T](call.Arg(i))
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			e.Path = append([]string{"args", strconv.Itoa(i)}, e.Path...)
		}
	}
	return v, err
}

// HostObject is a host value exposed to the guest with its own method
// table. Calls with the object's handle as target resolve here.
type HostObject struct {
	Value   any
	methods map[string]HostFunc
	Name    string
	ref     handle.Ref
}

// Ref returns the handle the object was last exposed under, zero if it has
// not crossed yet.
func (o *HostObject) Ref() handle.Ref {
	return o.ref
}

// NewHostObject creates a host object with the given methods.
func NewHostObject(name string, value any, methods map[string]HostFunc) *HostObject {
	m := make(map[string]HostFunc, len(methods))
	for k, v := range methods {
		m[k] = v
	}
	return &HostObject{Name: name, Value: value, methods: m}
}

// Method returns the named method.
func (o *HostObject) Method(name string) (HostFunc, bool) {
	fn, ok := o.methods[name]
	return fn, ok
}

// HostFunctions is the host function table, keyed by name.
type HostFunctions struct {
	funcs map[string]HostFunc
	raw   map[string]RawFunc
	mu    sync.RWMutex
}

// NewHostFunctions creates an empty table.
func NewHostFunctions() *HostFunctions {
	return &HostFunctions{
		funcs: make(map[string]HostFunc),
		raw:   make(map[string]RawFunc),
	}
}

// Register adds a marshalled host function.
func (h *HostFunctions) Register(name string, fn HostFunc) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseDispatch, "function name cannot be empty")
	}
	if name == DisposeObjectIdentifier {
		return errors.InvalidInput(errors.PhaseDispatch, name+" is reserved")
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseDispatch, "handler cannot be nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs[name] = fn
	return nil
}

// RegisterRaw adds an unmarshalled host function.
func (h *HostFunctions) RegisterRaw(name string, fn RawFunc) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseDispatch, "function name cannot be empty")
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseDispatch, "handler cannot be nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.raw[name] = fn
	return nil
}

// Lookup returns the marshalled function registered as name.
func (h *HostFunctions) Lookup(name string) (HostFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.funcs[name]
	if !ok {
		return nil, errors.UnknownFunction(name, 0)
	}
	return fn, nil
}

// LookupRaw returns the unmarshalled function registered as name.
func (h *HostFunctions) LookupRaw(name string) (RawFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.raw[name]
	if !ok {
		return nil, errors.UnknownFunction(name, 0)
	}
	return fn, nil
}

// Names returns the registered marshalled function names.
func (h *HostFunctions) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.funcs))
	for name := range h.funcs {
		names = append(names, name)
	}
	return names
}
