package dispatch

import (
	"context"
)

// Guest is the host-to-guest half of the call surface. The managed runtime
// implements it; faults raised by guest code come back as *fault.RemoteError.
type Guest interface {
	// InvokeDotNet calls a guest method synchronously. A non-zero target
	// addresses an instance method of that guest object.
	InvokeDotNet(ctx context.Context, assembly, method string, target uint64, args []byte) ([]byte, error)

	// BeginInvokeDotNet starts an asynchronous guest call. The guest signals
	// completion through the endInvokeDotNetFromJS entry point with callID.
	BeginInvokeDotNet(ctx context.Context, callID uint64, assembly, method string, target uint64, args []byte) error

	// EndInvokeJS completes a guest-to-host asynchronous call. On success
	// payload holds the encoded result, otherwise the encoded fault.
	EndInvokeJS(ctx context.Context, asyncHandle uint64, succeeded bool, payload []byte) error

	// NotifyByteArrayAvailable tells the guest a byte payload is waiting.
	NotifyByteArrayAvailable(ctx context.Context, id int64) error

	// ReleaseDotNetObject disposes a guest object handle.
	ReleaseDotNetObject(ctx context.Context, id uint64) error
}
