package dispatch

import (
	"context"

	"github.com/wippyai/wasm-interop/handle"
)

// ObjectRef is the host's view of a guest object. It holds only the id-only
// token; the guest owns the object and decides when it is gone.
type ObjectRef struct {
	d   *Dispatcher
	ref handle.Ref
}

// Ref returns the boundary token.
func (o *ObjectRef) Ref() handle.Ref {
	return o.ref
}

// ID returns the guest handle id.
func (o *ObjectRef) ID() uint64 {
	return o.ref.ID
}

// InvokeMethod calls an instance method on the guest object.
func (o *ObjectRef) InvokeMethod(ctx context.Context, method string, args ...any) (any, error) {
	return o.d.invokeInstance(ctx, o.ref.ID, method, args)
}

// InvokeMethodAsync starts an asynchronous instance method call.
func (o *ObjectRef) InvokeMethodAsync(ctx context.Context, method string, args ...any) (*Future, error) {
	return o.d.invokeInstanceAsync(ctx, o.ref.ID, method, args)
}

// Dispose asks the guest to release the object. Disposing twice fails with
// DoubleFree.
func (o *ObjectRef) Dispose(ctx context.Context) error {
	return o.d.releaseGuestObject(ctx, o.ref.ID)
}
