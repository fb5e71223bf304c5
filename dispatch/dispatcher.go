package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	wasminterop "github.com/wippyai/wasm-interop"
	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/fault"
	"github.com/wippyai/wasm-interop/handle"
	"github.com/wippyai/wasm-interop/heap"
	"github.com/wippyai/wasm-interop/transfer"
)

// Dispatcher routes calls across the boundary for one guest instance. It is
// the explicit context every boundary operation goes through; there is no
// process-wide dispatch state.
//
// A Dispatcher is not safe for concurrent use. Boundary traffic is
// serialized by the caller, and asynchronous work runs on its Loop.
type Dispatcher struct {
	logger     *zap.Logger
	codec      *codec.Codec
	loop       *Loop
	calls      *CallTable
	functions  *HostFunctions
	objects    *handle.Registry
	channel    *transfer.Channel
	methods    *MethodTable
	guest      Guest
	heap       *heap.Accessor
	alloc      wasminterop.Allocator
	onCritical func(message string)
	received   map[int64][]byte
	recvMu     sync.Mutex
	maxPayload int
	nextByteID atomic.Int64
	closed     atomic.Bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithCodec sets the payload codec.
func WithCodec(c *codec.Codec) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.codec = c
		}
	}
}

// WithMaxPayload limits the size of byte arrays sent to the guest.
func WithMaxPayload(n int) Option {
	return func(d *Dispatcher) {
		d.maxPayload = n
	}
}

// WithCriticalErrorHook is called with every critical error the guest reports.
func WithCriticalErrorHook(fn func(message string)) Option {
	return func(d *Dispatcher) {
		d.onCritical = fn
	}
}

// New creates a dispatcher. It cannot cross the boundary until Attach.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:    zap.NewNop(),
		codec:     codec.Default(),
		calls:     NewCallTable(HostToGuest),
		functions: NewHostFunctions(),
		objects:   handle.NewRegistry(handle.SideHost),
		received:  make(map[int64][]byte),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.loop = NewLoop(d.logger)
	d.channel = transfer.New(transfer.NotifierFunc(d.notifyBytes),
		transfer.WithLogger(d.logger),
		transfer.WithMaxPayload(d.maxPayload))
	d.objects.Subscribe(handle.ObserverFunc(func(e handle.Event) {
		d.logger.Debug("host handle "+e.Type.String(),
			zap.Uint64("handle", e.Ref.ID),
			zap.Stringer("kind", e.Ref.Kind),
			zap.Uint32("refs", e.Refs))
	}))
	return d
}

// Attach connects the dispatcher to a running guest: its call surface, the
// accessor over its linear memory, the allocator used to write results into
// it, and its method table.
func (d *Dispatcher) Attach(guest Guest, acc *heap.Accessor, alloc wasminterop.Allocator, methods *MethodTable) error {
	if guest == nil || acc == nil || alloc == nil || methods == nil {
		return errors.InvalidInput(errors.PhaseLoad, "attach requires a guest, heap, allocator and method table")
	}
	d.guest = guest
	d.heap = acc
	d.alloc = alloc
	d.methods = methods
	return nil
}

// Loop returns the dispatcher's event loop.
func (d *Dispatcher) Loop() *Loop { return d.loop }

// Calls returns the table of pending host-to-guest asynchronous calls.
func (d *Dispatcher) Calls() *CallTable { return d.calls }

// Functions returns the host function table.
func (d *Dispatcher) Functions() *HostFunctions { return d.functions }

// Objects returns the host handle registry.
func (d *Dispatcher) Objects() *handle.Registry { return d.objects }

// Methods returns the guest method table, or nil before Attach.
func (d *Dispatcher) Methods() *MethodTable { return d.methods }

// Heap returns the heap accessor, or nil before Attach.
func (d *Dispatcher) Heap() *heap.Accessor { return d.heap }

// RegisterFunction exposes fn to the guest under name.
func (d *Dispatcher) RegisterFunction(name string, fn HostFunc) error {
	return d.functions.Register(name, fn)
}

// RegisterRawFunction exposes an unmarshalled function to the guest.
func (d *Dispatcher) RegisterRawFunction(name string, fn RawFunc) error {
	return d.functions.RegisterRaw(name, fn)
}

func (d *Dispatcher) ready(op string) error {
	if d.closed.Load() {
		return errors.Closed(errors.PhaseDispatch, "dispatcher")
	}
	if d.guest == nil {
		return errors.NotInitialized(errors.PhaseDispatch, "guest")
	}
	return d.heap.AssertUnlocked(op)
}

// Invoke calls a guest method and waits for its result.
func (d *Dispatcher) Invoke(ctx context.Context, assembly, method string, args ...any) (any, error) {
	m, payload, err := d.prepare(ctx, "invoke", assembly, method, args)
	if err != nil {
		return nil, err
	}
	if m.Async {
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Detail("method %q in assembly '%s' is asynchronous; use InvokeAsync", method, assembly).
			Build()
	}

	d.logger.Debug("invoke",
		zap.String("assembly", assembly),
		zap.String("method", method),
		zap.Int("args", len(args)))

	out, err := d.guest.InvokeDotNet(ctx, assembly, method, 0, payload)
	if err != nil {
		return nil, err
	}
	return d.decodeResult(out, m.Result.Kind)
}

// InvokeAsync starts a guest method call and returns a Future for its
// result. The call stays pending until the guest signals completion with
// the same correlation id.
func (d *Dispatcher) InvokeAsync(ctx context.Context, assembly, method string, args ...any) (*Future, error) {
	m, payload, err := d.prepare(ctx, "invoke", assembly, method, args)
	if err != nil {
		return nil, err
	}

	rec := d.calls.Issue(method, 0, m.Result.Kind)
	d.logger.Debug("begin invoke",
		zap.Uint64("call_id", rec.ID),
		zap.String("assembly", assembly),
		zap.String("method", method))

	if err := d.guest.BeginInvokeDotNet(ctx, rec.ID, assembly, method, 0, payload); err != nil {
		_ = d.calls.Reject(rec.ID, err)
		return nil, err
	}
	return NewFuture(rec, d.loop), nil
}

func (d *Dispatcher) prepare(ctx context.Context, op, assembly, method string, args []any) (*MethodInfo, []byte, error) {
	if err := d.ready(op); err != nil {
		return nil, nil, err
	}
	m, err := d.methods.Resolve(assembly, method)
	if err != nil {
		return nil, nil, err
	}
	if len(args) != len(m.Params) {
		return nil, nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Detail("method %q expects %d argument(s), got %d", method, len(m.Params), len(args)).
			Build()
	}
	payload, err := d.encodeArgs(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	return m, payload, nil
}

func (d *Dispatcher) invokeInstance(ctx context.Context, target uint64, method string, args []any) (any, error) {
	if err := d.ready("invoke method"); err != nil {
		return nil, err
	}
	payload, err := d.encodeArgs(ctx, args)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("invoke method", zap.Uint64("target", target), zap.String("method", method))
	out, err := d.guest.InvokeDotNet(ctx, "", method, target, payload)
	if err != nil {
		return nil, err
	}
	return d.decodeResult(out, codec.KindOpaque)
}

func (d *Dispatcher) invokeInstanceAsync(ctx context.Context, target uint64, method string, args []any) (*Future, error) {
	if err := d.ready("invoke method"); err != nil {
		return nil, err
	}
	payload, err := d.encodeArgs(ctx, args)
	if err != nil {
		return nil, err
	}

	rec := d.calls.Issue(method, target, codec.KindOpaque)
	if err := d.guest.BeginInvokeDotNet(ctx, rec.ID, "", method, target, payload); err != nil {
		_ = d.calls.Reject(rec.ID, err)
		return nil, err
	}
	return NewFuture(rec, d.loop), nil
}

func (d *Dispatcher) releaseGuestObject(ctx context.Context, id uint64) error {
	if err := d.ready("release object"); err != nil {
		return err
	}
	d.logger.Debug("release guest object", zap.Uint64("handle", id))
	return d.guest.ReleaseDotNetObject(ctx, id)
}

// CompleteCall delivers the completion signal for a pending asynchronous
// call. On success payload is the encoded result, otherwise the encoded
// fault. Completing an unknown or finished call fails with UnknownCall.
func (d *Dispatcher) CompleteCall(id uint64, succeeded bool, payload []byte) error {
	rec, err := d.calls.Lookup(id)
	if err != nil {
		return err
	}

	if !succeeded {
		d.logger.Debug("call faulted", zap.Uint64("call_id", id))
		return d.calls.Reject(id, fault.Raise(fault.Parse(string(payload))))
	}

	value, err := d.decodeResult(payload, rec.Kind)
	if err != nil {
		return d.calls.Reject(id, err)
	}
	d.logger.Debug("call resolved", zap.Uint64("call_id", id))
	return d.calls.Resolve(id, value)
}

// SendByteArray hands data to the guest through the byte transfer channel.
func (d *Dispatcher) SendByteArray(ctx context.Context, id int64, data []byte) error {
	if err := d.ready("send byte array"); err != nil {
		return err
	}
	return d.channel.Send(ctx, id, data)
}

func (d *Dispatcher) notifyBytes(ctx context.Context, id int64) error {
	if d.guest == nil {
		return errors.NotInitialized(errors.PhaseTransfer, "guest")
	}
	return d.guest.NotifyByteArrayAvailable(ctx, id)
}

// encodeArgs converts host values to boundary values and encodes them.
// Byte slices are sent ahead through the transfer channel under negative
// ids, leaving positive ids to SendByteArray callers. Nothing is sent until
// the whole list has encoded.
func (d *Dispatcher) encodeArgs(ctx context.Context, args []any) ([]byte, error) {
	type pending struct {
		id   int64
		data []byte
	}
	var sends []pending

	out := make([]any, len(args))
	for i, a := range args {
		if b, ok := a.([]byte); ok {
			id := -d.nextByteID.Add(1)
			sends = append(sends, pending{id: id, data: b})
			out[i] = codec.ByteRef{ID: id}
			continue
		}
		v, err := d.outbound(a, handle.KindObject)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}

	payload, err := d.codec.Encode(out)
	if err != nil {
		return nil, err
	}
	for _, p := range sends {
		if err := d.channel.Send(ctx, p.id, p.data); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// outbound replaces host-side references with boundary tokens.
func (d *Dispatcher) outbound(v any, kind handle.Kind) (any, error) {
	switch x := v.(type) {
	case *ObjectRef:
		return x.ref, nil
	case *HostObject:
		if !x.ref.IsZero() {
			if cur, err := d.objects.Resolve(x.ref.ID); err == nil && cur == x {
				return x.ref, nil
			}
		}
		ref, err := d.objects.Create(x, kind)
		if err != nil {
			return nil, err
		}
		x.ref = ref
		return ref, nil
	default:
		return v, nil
	}
}

// inbound replaces boundary tokens with host-side values.
func (d *Dispatcher) inbound(ref any) (any, error) {
	switch r := ref.(type) {
	case handle.Ref:
		if r.Owner == handle.SideGuest {
			return &ObjectRef{d: d, ref: r}, nil
		}
		return d.objects.ResolveRef(r)
	case codec.ByteRef:
		return d.takeReceived(r.ID)
	default:
		return ref, nil
	}
}

func (d *Dispatcher) decodeResult(data []byte, kind codec.Kind) (any, error) {
	if kind == codec.KindVoid {
		return nil, nil
	}
	v, err := d.codec.DecodeValue(data, kind)
	if err != nil {
		return nil, err
	}
	return codec.Walk(v, d.inbound)
}

func (d *Dispatcher) storeReceived(id int64, data []byte) {
	d.recvMu.Lock()
	defer d.recvMu.Unlock()
	if _, ok := d.received[id]; ok {
		d.logger.Warn("replacing unconsumed received byte array", zap.Int64("id", id))
	}
	d.received[id] = data
}

func (d *Dispatcher) takeReceived(id int64) ([]byte, error) {
	d.recvMu.Lock()
	defer d.recvMu.Unlock()
	data, ok := d.received[id]
	if !ok {
		return nil, errors.New(errors.PhaseTransfer, errors.KindNoPendingPayload).
			Value(id).
			Detail("no byte array received with id %d", id).
			Build()
	}
	delete(d.received, id)
	return data, nil
}

// Close faults every pending call and releases host handles.
func (d *Dispatcher) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.calls.RejectAll(errors.Closed(errors.PhaseDispatch, "dispatcher"))
	d.loop.Close()
	return d.objects.Close()
}
