package vm

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/dispatch"
	"github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/fault"
	"github.com/wippyai/wasm-interop/handle"
	"github.com/wippyai/wasm-interop/heap"
	"github.com/wippyai/wasm-interop/internal/shim"
)

// HeapBase is the first address the allocator hands out. Everything below
// it stays zero so a null pointer never aliases a live object.
const HeapBase = 1024

// VM is the managed runtime living in the shim's linear memory. It is the
// guest half of the call surface: it owns the assemblies, the guest handle
// registry and the guest-side table of pending host calls.
type VM struct {
	logger     *zap.Logger
	codec      *codec.Codec
	mod        api.Module
	heap       *heap.Accessor
	alloc      *Allocator
	loop       *dispatch.Loop
	table      *dispatch.MethodTable
	assemblies map[string]map[string]*Method
	objects    *handle.Registry
	calls      *dispatch.CallTable
	exports    map[string]api.Function
	host       *Host
	bytes      map[int64][]byte
	nextByteID int64
	mu         sync.Mutex
}

// Option configures a VM.
type Option func(*VM)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *VM) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithCodec sets the payload codec.
func WithCodec(c *codec.Codec) Option {
	return func(v *VM) {
		if c != nil {
			v.codec = c
		}
	}
}

// New boots a VM inside mod, the instantiated shim. Asynchronous guest
// methods run on loop.
func New(mod api.Module, loop *dispatch.Loop, assemblies []*Assembly, opts ...Option) (*VM, error) {
	if mod == nil || loop == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "vm requires a shim module and a loop")
	}
	mem := mod.ExportedMemory(shim.MemoryExport)
	if mem == nil {
		return nil, errors.Load("shim does not export memory", nil)
	}

	table, err := dispatch.NewMethodTable(Manifest(assemblies))
	if err != nil {
		return nil, err
	}

	v := &VM{
		logger:     zap.NewNop(),
		codec:      codec.Default(),
		mod:        mod,
		heap:       heap.New(heap.Wrap(mem)),
		alloc:      NewAllocator(mem, HeapBase),
		loop:       loop,
		table:      table,
		assemblies: make(map[string]map[string]*Method),
		objects:    handle.NewRegistry(handle.SideGuest),
		calls:      dispatch.NewCallTable(dispatch.GuestToHost),
		exports:    make(map[string]api.Function),
		bytes:      make(map[int64][]byte),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.host = &Host{vm: v}

	for _, ep := range dispatch.EntryPoints {
		fn := mod.ExportedFunction(ep.Name)
		if fn == nil {
			return nil, errors.Load("shim does not export "+ep.Name, nil)
		}
		v.exports[ep.Name] = fn
	}

	for _, asm := range assemblies {
		byID := make(map[string]*Method, len(asm.Methods))
		for i := range asm.Methods {
			m := &asm.Methods[i]
			byID[m.Identifier()] = m
		}
		v.assemblies[asm.Name] = byID
	}

	v.objects.Subscribe(handle.ObserverFunc(func(e handle.Event) {
		v.logger.Debug("guest handle "+e.Type.String(),
			zap.Uint64("handle", e.Ref.ID),
			zap.Uint32("refs", e.Refs))
	}))
	return v, nil
}

// Heap returns the accessor over the guest's linear memory.
func (v *VM) Heap() *heap.Accessor { return v.heap }

// Allocator returns the guest heap allocator.
func (v *VM) Allocator() *Allocator { return v.alloc }

// Methods returns the method table of the loaded assemblies.
func (v *VM) Methods() *dispatch.MethodTable { return v.table }

// Objects returns the guest handle registry.
func (v *VM) Objects() *handle.Registry { return v.objects }

// Calls returns the guest-side table of pending host calls.
func (v *VM) Calls() *dispatch.CallTable { return v.calls }

// Host returns the guest's view of the host.
func (v *VM) Host() *Host { return v.host }

// InvokeDotNet runs a synchronous guest method.
func (v *VM) InvokeDotNet(ctx context.Context, assembly, method string, target uint64, args []byte) ([]byte, error) {
	m, self, err := v.resolve(assembly, method, target)
	if err != nil {
		v.dropBytes(args)
		return nil, raise(err)
	}
	defer v.release(self)

	out, err := v.run(ctx, m, self, args)
	if err != nil {
		return nil, raise(err)
	}
	return out, nil
}

// BeginInvokeDotNet queues a guest method on the loop. Its completion is
// signalled through the endInvokeDotNetFromJS entry point.
func (v *VM) BeginInvokeDotNet(ctx context.Context, callID uint64, assembly, method string, target uint64, args []byte) error {
	m, self, err := v.resolve(assembly, method, target)
	if err != nil {
		v.dropBytes(args)
		return raise(err)
	}

	posted := v.loop.Post(func(ctx context.Context) {
		defer v.release(self)
		out, err := v.run(ctx, m, self, args)
		v.endInvokeDotNet(ctx, callID, out, err)
	})
	if !posted {
		v.release(self)
		v.dropBytes(args)
		return errors.Closed(errors.PhaseGuest, "event loop")
	}
	return nil
}

// EndInvokeJS completes a pending guest-to-host asynchronous call.
func (v *VM) EndInvokeJS(ctx context.Context, asyncHandle uint64, succeeded bool, payload []byte) error {
	rec, err := v.calls.Lookup(asyncHandle)
	if err != nil {
		return err
	}
	if !succeeded {
		return v.calls.Reject(asyncHandle, fault.Raise(fault.Parse(string(payload))))
	}

	value, err := v.codec.DecodeValue(payload, rec.Kind)
	if err == nil {
		value, err = codec.Walk(value, v.inbound)
	}
	if err != nil {
		return v.calls.Reject(asyncHandle, err)
	}
	return v.calls.Resolve(asyncHandle, value)
}

// NotifyByteArrayAvailable pulls the waiting byte payload from the host and
// keeps it under id until an argument refers to it.
func (v *VM) NotifyByteArrayAvailable(ctx context.Context, id int64) error {
	data, err := v.RetrieveByteArray(ctx)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.bytes[id] = data
	v.mu.Unlock()
	v.logger.Debug("byte array available", zap.Int64("id", id), zap.Int("size", len(data)))
	return nil
}

// RetrieveByteArray takes the host's pending byte payload through the
// retrieveByteArray entry point.
func (v *VM) RetrieveByteArray(ctx context.Context) ([]byte, error) {
	mark := v.alloc.Mark()
	defer v.alloc.Reset(mark)

	ret, err := v.callExport(ctx, dispatch.EntryRetrieveBytes)
	if err != nil {
		return nil, err
	}
	ptr := api.DecodeU32(ret)
	if ptr == 0 {
		return nil, errors.NoPendingPayload()
	}
	return v.heap.ReadBytes(ptr)
}

// TakeBytes removes and returns the byte payload received under id.
func (v *VM) TakeBytes(id int64) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	data, ok := v.bytes[id]
	if ok {
		delete(v.bytes, id)
	}
	return data, ok
}

// ReleaseDotNetObject disposes a guest object handle.
func (v *VM) ReleaseDotNetObject(ctx context.Context, id uint64) error {
	if err := v.objects.Dispose(id); err != nil {
		return raise(err)
	}
	return nil
}

// ReportCriticalError reports an unrecoverable guest failure to the host.
func (v *VM) ReportCriticalError(ctx context.Context, message string) error {
	mark := v.alloc.Mark()
	defer v.alloc.Reset(mark)

	ptr, err := v.heap.WriteString(v.alloc, message)
	if err != nil {
		return err
	}
	_, err = v.callExport(ctx, dispatch.EntryCriticalError, api.EncodeU32(ptr))
	return err
}

// Close fails every pending host call and drops guest objects.
func (v *VM) Close() error {
	v.calls.RejectAll(errors.Closed(errors.PhaseGuest, "vm"))
	return v.objects.Close()
}

// resolve finds the method for a static or instance call. Instance targets
// are retained until release.
func (v *VM) resolve(assembly, method string, target uint64) (*Method, *ObjectReference, error) {
	if target == 0 {
		byID, ok := v.assemblies[assembly]
		if !ok {
			return nil, nil, errors.UnknownAssembly(assembly)
		}
		m, ok := byID[method]
		if !ok {
			return nil, nil, errors.UnknownMethod(assembly, method)
		}
		return m, nil, nil
	}

	val, err := v.objects.ResolveKind(target, handle.KindObject)
	if err != nil {
		return nil, nil, err
	}
	self, ok := val.(*ObjectReference)
	if !ok || self.Class == nil {
		return nil, nil, errors.UnknownFunction(method, target)
	}
	m, ok := self.Class.method(method)
	if !ok {
		return nil, nil, errors.UnknownMethod(self.Class.Name, method)
	}
	if err := v.objects.Retain(target); err != nil {
		return nil, nil, err
	}
	return m, self, nil
}

func (v *VM) release(self *ObjectReference) {
	if self == nil {
		return
	}
	if err := v.objects.Release(self.ref.ID); err != nil {
		v.logger.Warn("release guest object", zap.Uint64("handle", self.ref.ID), zap.Error(err))
	}
}

// run decodes the arguments, calls the thunk and encodes its result.
func (v *VM) run(ctx context.Context, m *Method, self *ObjectReference, payload []byte) (_ []byte, err error) {
	defer func() {
		if err != nil {
			v.dropBytes(payload)
		}
	}()

	var args []any
	if len(payload) > 0 {
		if args, err = v.codec.Decode(payload, m.paramKinds()); err != nil {
			return nil, err
		}
	}
	if len(args) != len(m.Params) {
		return nil, errors.New(errors.PhaseGuest, errors.KindInvalidInput).
			Detail("method %q expects %d argument(s), got %d", m.Identifier(), len(m.Params), len(args)).
			Build()
	}
	for i, a := range args {
		if args[i], err = codec.Walk(a, v.inbound); err != nil {
			return nil, err
		}
	}

	call := &Call{Host: v.host, Self: self, Args: args}
	var result any
	if cbe := fault.Guard(func() error {
		var err error
		result, err = m.Thunk(ctx, call)
		return err
	}); cbe != nil {
		return nil, fault.Raise(cbe)
	}

	if m.Result.Kind == codec.KindVoid {
		return v.codec.EncodeValue(nil)
	}
	out, err := v.outbound(ctx, result)
	if err != nil {
		return nil, err
	}
	return v.codec.EncodeValue(out)
}

// dropBytes discards byte arrays announced for an argument list that failed
// before its method consumed them.
func (v *VM) dropBytes(payload []byte) {
	if len(payload) == 0 {
		return
	}
	args, err := v.codec.Decode(payload, nil)
	if err != nil {
		return
	}
	for _, a := range args {
		_, _ = codec.Walk(a, func(ref any) (any, error) {
			if b, ok := ref.(codec.ByteRef); ok {
				if _, ok := v.TakeBytes(b.ID); ok {
					v.logger.Debug("dropped byte array", zap.Int64("id", b.ID))
				}
			}
			return ref, nil
		})
	}
}

// endInvokeDotNet signals completion of an asynchronous guest method.
func (v *VM) endInvokeDotNet(ctx context.Context, callID uint64, out []byte, runErr error) {
	mark := v.alloc.Mark()
	defer v.alloc.Reset(mark)

	err := func() error {
		idPtr, err := v.heap.WriteString(v.alloc, dispatch.FormatCallID(callID))
		if err != nil {
			return err
		}
		var resPtr uint32
		succeeded := runErr == nil
		if succeeded {
			resPtr, err = v.heap.WriteBytes(v.alloc, out)
		} else {
			resPtr, err = v.heap.WriteString(v.alloc, fault.Capture(runErr).Encode())
		}
		if err != nil {
			return err
		}
		flag := int32(0)
		if succeeded {
			flag = 1
		}
		_, err = v.callExport(ctx, dispatch.EntryEndInvokeDotNet,
			api.EncodeU32(idPtr), api.EncodeI32(flag), api.EncodeU32(resPtr))
		return err
	}()
	if err != nil {
		v.logger.Error("signal async completion", zap.Uint64("call_id", callID), zap.Error(err))
		if rerr := v.ReportCriticalError(ctx, "cannot complete call "+dispatch.FormatCallID(callID)+": "+err.Error()); rerr != nil {
			v.logger.Error("report critical error", zap.Error(rerr))
		}
	}
}

// outbound replaces guest values that cross by reference with tokens.
func (v *VM) outbound(ctx context.Context, val any) (any, error) {
	switch x := val.(type) {
	case *ObjectReference:
		if x == nil {
			return nil, nil
		}
		return v.expose(x)
	case *HostObjectRef:
		if x == nil {
			return nil, nil
		}
		return x.ref, nil
	case []byte:
		return v.sendBytes(ctx, x)
	default:
		return val, nil
	}
}

// expose registers o in the guest registry unless it already holds a live
// handle.
func (v *VM) expose(o *ObjectReference) (handle.Ref, error) {
	if !o.ref.IsZero() {
		if cur, err := v.objects.Resolve(o.ref.ID); err == nil && cur == o {
			return o.ref, nil
		}
	}
	ref, err := v.objects.Create(o, handle.KindObject)
	if err != nil {
		return handle.Ref{}, err
	}
	o.ref = ref
	return ref, nil
}

// sendBytes hands data to the host through receiveByteArray and returns
// the reference that stands for it.
func (v *VM) sendBytes(ctx context.Context, data []byte) (codec.ByteRef, error) {
	v.mu.Lock()
	v.nextByteID++
	id := v.nextByteID
	v.mu.Unlock()

	mark := v.alloc.Mark()
	defer v.alloc.Reset(mark)

	ptr, err := v.heap.WriteBytes(v.alloc, data)
	if err != nil {
		return codec.ByteRef{}, err
	}
	if _, err := v.callExport(ctx, dispatch.EntryReceiveBytes, api.EncodeI64(id), api.EncodeU32(ptr)); err != nil {
		return codec.ByteRef{}, err
	}
	return codec.ByteRef{ID: id}, nil
}

// inbound replaces tokens arriving from the host with guest values.
func (v *VM) inbound(ref any) (any, error) {
	switch r := ref.(type) {
	case handle.Ref:
		if r.Owner == handle.SideHost {
			return &HostObjectRef{host: v.host, ref: r}, nil
		}
		return v.objects.ResolveRef(r)
	case codec.ByteRef:
		data, ok := v.TakeBytes(r.ID)
		if !ok {
			return nil, errors.New(errors.PhaseGuest, errors.KindNoPendingPayload).
				Value(r.ID).
				Detail("no byte array available with id %d", r.ID).
				Build()
		}
		return data, nil
	default:
		return ref, nil
	}
}

func (v *VM) callExport(ctx context.Context, name string, params ...uint64) (uint64, error) {
	fn, ok := v.exports[name]
	if !ok {
		return 0, errors.NotInitialized(errors.PhaseGuest, name)
	}
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseGuest, errors.KindInvalidData, err, "call "+name)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

// raise converts a guest-side error into the fault the host observes.
func raise(err error) error {
	return fault.Raise(fault.Capture(err))
}
