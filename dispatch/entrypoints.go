package dispatch

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/fault"
	"github.com/wippyai/wasm-interop/handle"
	"github.com/wippyai/wasm-interop/heap"
)

// Instantiate registers the host entry points with r as module name.
func (d *Dispatcher) Instantiate(ctx context.Context, r wazero.Runtime, name string) (api.Module, error) {
	if name == "" {
		name = DefaultHostModule
	}
	b := r.NewHostModuleBuilder(name)
	for _, ep := range EntryPoints {
		b.NewFunctionBuilder().
			WithGoModuleFunction(d.entryPoint(ep.Name), ep.Params, ep.Results).
			Export(ep.Name)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate host module "+name)
	}
	return mod, nil
}

func (d *Dispatcher) entryPoint(name string) api.GoModuleFunc {
	switch name {
	case EntryInvokeJS:
		return d.invokeJSFromDotNet
	case EntryEndInvokeDotNet:
		return d.endInvokeDotNetFromJS
	case EntryReceiveBytes:
		return d.receiveByteArray
	case EntryRetrieveBytes:
		return d.retrieveByteArray
	case EntryCriticalError:
		return d.dotNetCriticalError
	}
	panic("dispatch: unknown entry point " + name)
}

// invokeJSFromDotNet(callInfo, arg0, arg1, arg2 i32) i32
func (d *Dispatcher) invokeJSFromDotNet(ctx context.Context, _ api.Module, stack []uint64) {
	callInfo := api.DecodeU32(stack[0])
	a0, a1, a2 := api.DecodeI32(stack[1]), api.DecodeI32(stack[2]), api.DecodeI32(stack[3])

	ret, cbe := d.HandleInvoke(ctx, callInfo, a0, a1, a2)
	if cbe != nil {
		d.logger.Debug("host call faulted",
			zap.String("kind", cbe.Kind),
			zap.String("message", cbe.Message))
		if err := d.writeFault(callInfo, cbe); err != nil {
			d.logger.Error("cannot write fault to call info", zap.Uint32("call_info", callInfo), zap.Error(err))
		}
		ret = 0
	}
	stack[0] = api.EncodeI32(ret)
}

// HandleInvoke runs the guest-to-host call described by the CallInfo at
// callInfo. A fault is returned instead of being written to the call info.
func (d *Dispatcher) HandleInvoke(ctx context.Context, callInfo uint32, a0, a1, a2 int32) (int32, *fault.CrossBoundaryError) {
	if d.heap == nil {
		return 0, fault.Capture(errors.NotInitialized(errors.PhaseDispatch, "heap"))
	}
	info, err := d.readCallInfo(callInfo)
	if err != nil {
		return 0, fault.Capture(err)
	}

	if !info.Marshalled {
		fn, err := d.functions.LookupRaw(info.Function)
		if err != nil {
			return 0, fault.Capture(err)
		}
		var ret int32
		cbe := fault.Guard(func() error {
			var err error
			ret, err = fn(ctx, a0, a1, a2)
			return err
		})
		return ret, cbe
	}

	args, err := d.codec.Decode(info.Args, nil)
	if err != nil {
		return 0, fault.Capture(err)
	}
	for i, a := range args {
		if args[i], err = codec.Walk(a, d.inbound); err != nil {
			return 0, fault.Capture(err)
		}
	}

	if info.Target != 0 && info.Function == DisposeObjectIdentifier {
		d.logger.Debug("guest disposed host object", zap.Uint64("handle", info.Target))
		return 0, fault.Capture(d.objects.Dispose(info.Target))
	}

	fn, err := d.resolveHostFunc(info)
	if err != nil {
		return 0, fault.Capture(err)
	}
	if info.Target != 0 {
		if err := d.objects.Retain(info.Target); err != nil {
			return 0, fault.Capture(err)
		}
	}
	call := &Call{Dispatcher: d, Args: args, Target: info.Target, Async: info.AsyncHandle != 0}

	d.logger.Debug("host call",
		zap.String("function", info.Function),
		zap.Uint64("target", info.Target),
		zap.Uint64("async_handle", info.AsyncHandle),
		zap.Stringer("result_type", info.ResultType))

	if info.AsyncHandle != 0 {
		posted := d.loop.Post(func(ctx context.Context) {
			d.runAsync(ctx, info, fn, call)
		})
		if !posted {
			d.releaseTarget(info.Target)
			return 0, fault.Capture(errors.Closed(errors.PhaseDispatch, "event loop"))
		}
		return 0, nil
	}

	defer d.releaseTarget(info.Target)
	var result any
	if cbe := fault.Guard(func() error {
		var err error
		result, err = fn(ctx, call)
		return err
	}); cbe != nil {
		return 0, cbe
	}

	ret, err := d.writeResult(info.ResultType, result)
	if err != nil {
		return 0, fault.Capture(err)
	}
	return ret, nil
}

func (d *Dispatcher) releaseTarget(target uint64) {
	if target == 0 {
		return
	}
	if err := d.objects.Release(target); err != nil {
		d.logger.Warn("release host object", zap.Uint64("handle", target), zap.Error(err))
	}
}

func (d *Dispatcher) resolveHostFunc(info *CallInfo) (HostFunc, error) {
	if info.Target == 0 {
		return d.functions.Lookup(info.Function)
	}
	v, err := d.objects.ResolveKind(info.Target, handle.KindObject)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*HostObject)
	if !ok {
		return nil, errors.UnknownFunction(info.Function, info.Target)
	}
	fn, ok := obj.Method(info.Function)
	if !ok {
		return nil, errors.UnknownFunction(info.Function, info.Target)
	}
	return fn, nil
}

// runAsync executes an asynchronous host call on the loop and completes it
// on the guest side.
func (d *Dispatcher) runAsync(ctx context.Context, info *CallInfo, fn HostFunc, call *Call) {
	defer d.releaseTarget(info.Target)

	var result any
	cbe := fault.Guard(func() error {
		var err error
		result, err = fn(ctx, call)
		if err != nil {
			return err
		}
		result, err = d.asyncResult(info.ResultType, result)
		return err
	})

	var (
		payload   []byte
		succeeded = cbe == nil
	)
	if succeeded {
		payload = result.([]byte)
	} else {
		payload = []byte(cbe.Encode())
	}

	if err := d.guest.EndInvokeJS(ctx, info.AsyncHandle, succeeded, payload); err != nil {
		d.logger.Error("complete guest async call",
			zap.Uint64("async_handle", info.AsyncHandle),
			zap.Error(err))
	}
}

// asyncResult encodes the result of an asynchronous host call. Handle
// results travel as their boundary token.
func (d *Dispatcher) asyncResult(rt ResultType, v any) ([]byte, error) {
	var (
		out any
		err error
	)
	switch rt {
	case ResultVoid:
		return d.codec.EncodeValue(nil)
	case ResultObjectReference:
		out, err = d.register(v, handle.KindObject)
	case ResultStreamReference:
		out, err = d.register(v, handle.KindStream)
	default:
		out, err = d.outbound(v, handle.KindObject)
	}
	if err != nil {
		return nil, err
	}
	return d.codec.EncodeValue(out)
}

// register exposes v as a host handle of kind.
func (d *Dispatcher) register(v any, kind handle.Kind) (handle.Ref, error) {
	if obj, ok := v.(*HostObject); ok {
		out, err := d.outbound(obj, kind)
		if err != nil {
			return handle.Ref{}, err
		}
		return out.(handle.Ref), nil
	}
	return d.objects.Create(v, kind)
}

// writeResult hands a synchronous result back: an encoded byte array
// pointer, a handle id, or nothing.
func (d *Dispatcher) writeResult(rt ResultType, v any) (int32, error) {
	switch rt {
	case ResultVoid:
		return 0, nil
	case ResultObjectReference, ResultStreamReference:
		if v == nil {
			return 0, nil
		}
		kind := handle.KindObject
		if rt == ResultStreamReference {
			kind = handle.KindStream
		}
		ref, err := d.register(v, kind)
		if err != nil {
			return 0, err
		}
		return int32(ref.ID), nil
	case ResultDefault:
		out, err := d.outbound(v, handle.KindObject)
		if err != nil {
			return 0, err
		}
		data, err := d.codec.EncodeValue(out)
		if err != nil {
			return 0, err
		}
		ptr, err := d.heap.WriteBytes(d.alloc, data)
		if err != nil {
			return 0, err
		}
		return int32(ptr), nil
	default:
		return 0, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Value(int32(rt)).
			Detail("unknown result type %d", int32(rt)).
			Build()
	}
}

func (d *Dispatcher) writeFault(callInfo uint32, cbe *fault.CrossBoundaryError) error {
	slot, err := fieldAddr(callInfo, CallInfoFault)
	if err != nil {
		return err
	}
	ptr, err := d.heap.WriteString(d.alloc, cbe.Encode())
	if err != nil {
		return err
	}
	return d.heap.WriteUint32(slot, ptr)
}

// readCallInfo decodes the CallInfo at ptr under the heap lock.
func (d *Dispatcher) readCallInfo(ptr uint32) (*CallInfo, error) {
	if _, err := fieldAddr(ptr, CallInfoSize); err != nil {
		return nil, err
	}
	lock, err := d.heap.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	fn, err := lock.ReadObject(ptr, CallInfoFunction)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "call info carries no function identifier")
	}
	rt, err := lock.ReadInt32(ptr + CallInfoResultType)
	if err != nil {
		return nil, err
	}
	argsPtr, err := lock.ReadUint32(ptr + CallInfoArgs)
	if err != nil {
		return nil, err
	}
	async, err := lock.ReadUint64(ptr + CallInfoAsyncHandle)
	if err != nil {
		return nil, err
	}
	target, err := lock.ReadUint64(ptr + CallInfoTarget)
	if err != nil {
		return nil, err
	}

	info := &CallInfo{
		Function:    *fn,
		ResultType:  ResultType(rt),
		AsyncHandle: async,
		Target:      target,
	}
	if argsPtr != 0 {
		if info.Args, err = lock.ReadBytes(argsPtr); err != nil {
			return nil, err
		}
		info.Marshalled = true
	}
	return info, nil
}

func fieldAddr(base, offset uint32) (uint32, error) {
	addr := uint64(base) + uint64(offset)
	if base == 0 || addr > 0xFFFFFFFF {
		return 0, errors.InvalidHeapAddress(addr, 0, 0)
	}
	return uint32(addr), nil
}

// endInvokeDotNetFromJS(callIdStr, success, resultOrError i32)
//
// On success the third argument is a byte array holding the encoded result;
// otherwise it is a string holding the encoded fault.
func (d *Dispatcher) endInvokeDotNetFromJS(ctx context.Context, _ api.Module, stack []uint64) {
	idPtr := api.DecodeU32(stack[0])
	succeeded := api.DecodeI32(stack[1]) != 0
	resPtr := api.DecodeU32(stack[2])

	id, payload, err := d.readCompletion(idPtr, succeeded, resPtr)
	if err == nil {
		err = d.CompleteCall(id, succeeded, payload)
	}
	if err != nil {
		d.logger.Warn("rejected completion signal", zap.Uint64("call_id", id), zap.Error(err))
	}
}

func (d *Dispatcher) readCompletion(idPtr uint32, succeeded bool, resPtr uint32) (uint64, []byte, error) {
	if d.heap == nil {
		return 0, nil, errors.NotInitialized(errors.PhaseDispatch, "heap")
	}
	lock, err := d.heap.Lock()
	if err != nil {
		return 0, nil, err
	}
	defer lock.Release()

	idStr, err := lock.ReadString(idPtr)
	if err != nil {
		return 0, nil, err
	}
	if idStr == nil {
		return 0, nil, errors.InvalidInput(errors.PhaseDispatch, "completion carries no call id")
	}
	id, err := ParseCallID(*idStr)
	if err != nil {
		return 0, nil, err
	}

	if succeeded {
		payload, err := lock.ReadBytes(resPtr)
		return id, payload, err
	}
	msg, err := lock.ReadString(resPtr)
	if err != nil {
		return id, nil, err
	}
	if msg == nil {
		return id, []byte(fault.KindError + ": unspecified failure"), nil
	}
	return id, []byte(*msg), nil
}

// receiveByteArray(id i64, byteArray i32)
func (d *Dispatcher) receiveByteArray(ctx context.Context, _ api.Module, stack []uint64) {
	id := int64(stack[0])
	arr := api.DecodeU32(stack[1])

	data, err := d.readLocked(func(l *heap.Lock) ([]byte, error) { return l.ReadBytes(arr) })
	if err != nil {
		d.logger.Error("receive byte array", zap.Int64("id", id), zap.Error(err))
		return
	}
	d.logger.Debug("received byte array", zap.Int64("id", id), zap.Int("size", len(data)))
	d.storeReceived(id, data)
}

// retrieveByteArray() i32
//
// Returns 0 when no payload is waiting.
func (d *Dispatcher) retrieveByteArray(ctx context.Context, _ api.Module, stack []uint64) {
	stack[0] = 0

	data, err := d.channel.Retrieve()
	if err != nil {
		d.logger.Warn("retrieve byte array", zap.Error(err))
		return
	}
	if d.heap == nil {
		return
	}
	ptr, err := d.heap.WriteBytes(d.alloc, data)
	if err != nil {
		d.logger.Error("write byte array to guest", zap.Error(err))
		return
	}
	stack[0] = api.EncodeU32(ptr)
}

// dotNetCriticalError(message i32)
func (d *Dispatcher) dotNetCriticalError(ctx context.Context, _ api.Module, stack []uint64) {
	ptr := api.DecodeU32(stack[0])

	msg := "<unreadable message>"
	if d.heap != nil {
		if s, err := d.heap.ReadString(ptr); err == nil && s != nil {
			msg = *s
		}
	}
	d.logger.Error("guest critical error", zap.String("message", msg))
	if d.onCritical != nil {
		d.onCritical(msg)
	}
}

func (d *Dispatcher) readLocked(fn func(*heap.Lock) ([]byte, error)) ([]byte, error) {
	if d.heap == nil {
		return nil, errors.NotInitialized(errors.PhaseDispatch, "heap")
	}
	lock, err := d.heap.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	return fn(lock)
}
