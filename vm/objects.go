package vm

import (
	"context"

	"github.com/wippyai/wasm-interop/dispatch"
	"github.com/wippyai/wasm-interop/handle"
)

// ObjectReference wraps a guest value so it can be handed to the host by
// handle. Its methods come from Class.
type ObjectReference struct {
	Value any
	Class *Class
	ref   handle.Ref
}

// NewObjectReference wraps value with the method table class. The handle is
// created when the reference first crosses to the host.
func NewObjectReference(value any, class *Class) *ObjectReference {
	return &ObjectReference{Value: value, Class: class}
}

// Ref returns the handle token, zero until the reference has crossed.
func (o *ObjectReference) Ref() handle.Ref {
	return o.ref
}

// HostObjectRef is the guest's view of a host object.
type HostObjectRef struct {
	host *Host
	ref  handle.Ref
}

// Ref returns the boundary token.
func (o *HostObjectRef) Ref() handle.Ref {
	return o.ref
}

// ID returns the host handle id.
func (o *HostObjectRef) ID() uint64 {
	return o.ref.ID
}

// Invoke calls a method of the host object.
func (o *HostObjectRef) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	return o.host.call(ctx, method, o.ref.ID, dispatch.ResultDefault, args)
}

// InvokeAsync starts an asynchronous call to a method of the host object.
func (o *HostObjectRef) InvokeAsync(ctx context.Context, method string, args ...any) (*dispatch.Future, error) {
	return o.host.callAsync(ctx, method, o.ref.ID, dispatch.ResultDefault, args)
}

// Dispose releases the host object. The host owns it; this only asks.
func (o *HostObjectRef) Dispose(ctx context.Context) error {
	_, err := o.host.call(ctx, dispatch.DisposeObjectIdentifier, o.ref.ID, dispatch.ResultVoid, nil)
	return err
}
