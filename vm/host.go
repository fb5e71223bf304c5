package vm

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/dispatch"
	"github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/fault"
	"github.com/wippyai/wasm-interop/handle"
)

// Host is the guest's view of the host. Every call writes a CallInfo into
// linear memory and crosses through the shim's invokeJSFromDotNet export.
type Host struct {
	vm *VM
}

// Invoke calls a host function and returns its decoded result.
func (h *Host) Invoke(ctx context.Context, identifier string, args ...any) (any, error) {
	return h.call(ctx, identifier, 0, dispatch.ResultDefault, args)
}

// InvokeVoid calls a host function and discards its result.
func (h *Host) InvokeVoid(ctx context.Context, identifier string, args ...any) error {
	_, err := h.call(ctx, identifier, 0, dispatch.ResultVoid, args)
	return err
}

// InvokeObject calls a host function whose result stays on the host and is
// returned by handle.
func (h *Host) InvokeObject(ctx context.Context, identifier string, args ...any) (*HostObjectRef, error) {
	return h.callRef(ctx, identifier, dispatch.ResultObjectReference, args)
}

// InvokeStream is InvokeObject for results the host registers as streams.
func (h *Host) InvokeStream(ctx context.Context, identifier string, args ...any) (*HostObjectRef, error) {
	return h.callRef(ctx, identifier, dispatch.ResultStreamReference, args)
}

// InvokeAsync starts an asynchronous host call. The host completes it
// through EndInvokeJS.
func (h *Host) InvokeAsync(ctx context.Context, identifier string, args ...any) (*dispatch.Future, error) {
	return h.callAsync(ctx, identifier, 0, dispatch.ResultDefault, args)
}

// InvokeUnmarshalled calls a raw host function with three i32 arguments
// and no payload.
func (h *Host) InvokeUnmarshalled(ctx context.Context, identifier string, a0, a1, a2 int32) (int32, error) {
	v := h.vm
	mark := v.alloc.Mark()
	defer v.alloc.Reset(mark)

	ci, err := h.writeCallInfo(ctx, identifier, dispatch.ResultDefault, nil, false, 0, 0)
	if err != nil {
		return 0, err
	}
	ret, err := v.callExport(ctx, dispatch.EntryInvokeJS,
		api.EncodeU32(ci), api.EncodeI32(a0), api.EncodeI32(a1), api.EncodeI32(a2))
	if err != nil {
		return 0, err
	}
	if err := h.readFault(ci); err != nil {
		return 0, err
	}
	return api.DecodeI32(ret), nil
}

func (h *Host) callRef(ctx context.Context, identifier string, rt dispatch.ResultType, args []any) (*HostObjectRef, error) {
	res, err := h.call(ctx, identifier, 0, rt, args)
	if err != nil || res == nil {
		return nil, err
	}
	return res.(*HostObjectRef), nil
}

func (h *Host) call(ctx context.Context, identifier string, target uint64, rt dispatch.ResultType, args []any) (any, error) {
	v := h.vm
	mark := v.alloc.Mark()
	defer v.alloc.Reset(mark)

	ci, err := h.writeCallInfo(ctx, identifier, rt, args, true, 0, target)
	if err != nil {
		return nil, err
	}

	v.logger.Debug("invoke host",
		zap.String("function", identifier),
		zap.Uint64("target", target),
		zap.Stringer("result_type", rt))

	ret, err := v.callExport(ctx, dispatch.EntryInvokeJS, api.EncodeU32(ci), 0, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := h.readFault(ci); err != nil {
		return nil, err
	}
	return h.readResult(rt, api.DecodeU32(ret))
}

func (h *Host) callAsync(ctx context.Context, identifier string, target uint64, rt dispatch.ResultType, args []any) (*dispatch.Future, error) {
	v := h.vm
	mark := v.alloc.Mark()
	defer v.alloc.Reset(mark)

	rec := v.calls.Issue(identifier, target, codec.KindOpaque)
	ci, err := h.writeCallInfo(ctx, identifier, rt, args, true, rec.ID, target)
	if err == nil {
		_, err = v.callExport(ctx, dispatch.EntryInvokeJS, api.EncodeU32(ci), 0, 0, 0)
	}
	if err == nil {
		err = h.readFault(ci)
	}
	if err != nil {
		_ = v.calls.Reject(rec.ID, err)
		return nil, err
	}

	v.logger.Debug("begin invoke host",
		zap.String("function", identifier),
		zap.Uint64("async_handle", rec.ID))
	return dispatch.NewFuture(rec, v.loop), nil
}

// writeCallInfo lays out the arguments and a CallInfo in the current frame.
func (h *Host) writeCallInfo(ctx context.Context, identifier string, rt dispatch.ResultType, args []any, marshalled bool, async, target uint64) (uint32, error) {
	v := h.vm

	fnPtr, err := v.heap.WriteString(v.alloc, identifier)
	if err != nil {
		return 0, err
	}

	var argsPtr uint32
	if marshalled {
		out := make([]any, len(args))
		for i, a := range args {
			if out[i], err = v.outbound(ctx, a); err != nil {
				return 0, err
			}
		}
		payload, err := v.codec.Encode(out)
		if err != nil {
			return 0, err
		}
		if argsPtr, err = v.heap.WriteBytes(v.alloc, payload); err != nil {
			return 0, err
		}
	}

	ci, err := v.alloc.Alloc(dispatch.CallInfoSize, 8)
	if err != nil {
		return 0, err
	}
	for _, w := range []func() error{
		func() error { return v.heap.WriteUint32(ci+dispatch.CallInfoFunction, fnPtr) },
		func() error { return v.heap.WriteInt32(ci+dispatch.CallInfoResultType, int32(rt)) },
		func() error { return v.heap.WriteUint32(ci+dispatch.CallInfoArgs, argsPtr) },
		func() error { return v.heap.WriteUint64(ci+dispatch.CallInfoAsyncHandle, async) },
		func() error { return v.heap.WriteUint64(ci+dispatch.CallInfoTarget, target) },
		func() error { return v.heap.WriteUint32(ci+dispatch.CallInfoFault, 0) },
	} {
		if err := w(); err != nil {
			return 0, err
		}
	}
	return ci, nil
}

// readFault raises the fault the host wrote into the CallInfo, if any.
func (h *Host) readFault(ci uint32) error {
	v := h.vm
	ptr, err := v.heap.ReadUint32(ci + dispatch.CallInfoFault)
	if err != nil {
		return err
	}
	if ptr == 0 {
		return nil
	}
	msg, err := v.heap.ReadString(ptr)
	if err != nil {
		return err
	}
	if msg == nil {
		return fault.Raise(&fault.CrossBoundaryError{Kind: fault.KindError, Message: "host call failed"})
	}
	return fault.Raise(fault.Parse(*msg))
}

func (h *Host) readResult(rt dispatch.ResultType, ret uint32) (any, error) {
	v := h.vm
	switch rt {
	case dispatch.ResultVoid:
		return nil, nil
	case dispatch.ResultObjectReference, dispatch.ResultStreamReference:
		if ret == 0 {
			return nil, nil
		}
		kind := handle.KindObject
		if rt == dispatch.ResultStreamReference {
			kind = handle.KindStream
		}
		return &HostObjectRef{host: h, ref: handle.Ref{ID: uint64(ret), Kind: kind, Owner: handle.SideHost}}, nil
	case dispatch.ResultDefault:
		if ret == 0 {
			return nil, nil
		}
		data, err := v.heap.ReadBytes(ret)
		if err != nil {
			return nil, err
		}
		val, err := v.codec.DecodeValue(data, codec.KindOpaque)
		if err != nil {
			return nil, err
		}
		return codec.Walk(val, v.inbound)
	default:
		return nil, errors.InvalidInput(errors.PhaseGuest, "unknown result type "+rt.String())
	}
}

// ReportCriticalError reports an unrecoverable guest failure to the host.
func (h *Host) ReportCriticalError(ctx context.Context, message string) error {
	return h.vm.ReportCriticalError(ctx, message)
}
