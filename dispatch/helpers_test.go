package dispatch

import (
	"context"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/handle"
	"github.com/wippyai/wasm-interop/heap"
)

type sliceMemory struct {
	data []byte
}

func (m *sliceMemory) Size() uint32 { return uint32(len(m.data)) }

func (m *sliceMemory) Read(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return nil, errors.InvalidHeapAddress(uint64(offset), length, m.Size())
	}
	return m.data[offset : offset+length], nil
}

func (m *sliceMemory) Write(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.data)) {
		return errors.InvalidHeapAddress(uint64(offset), uint32(len(data)), m.Size())
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *sliceMemory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *sliceMemory) ReadU64(offset uint32) (uint64, error) {
	b, err := m.Read(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *sliceMemory) WriteU32(offset uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.Write(offset, b[:])
}

func (m *sliceMemory) WriteU64(offset uint32, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.Write(offset, b[:])
}

type bumpAllocator struct {
	next, limit uint32
}

func (a *bumpAllocator) Alloc(size, align uint32) (uint32, error) {
	p := (a.next + align - 1) &^ (align - 1)
	if p+size > a.limit {
		return 0, errors.AllocationFailed(errors.PhaseHeap, size, align)
	}
	a.next = p + size
	return p, nil
}

func (a *bumpAllocator) Free(ptr, size, align uint32) {}

// expose registers obj on the host side and returns its token.
func expose(t *testing.T, d *Dispatcher, obj *HostObject) handle.Ref {
	t.Helper()
	out, err := d.outbound(obj, handle.KindObject)
	require.NoError(t, err)
	return out.(handle.Ref)
}

// fakeGuest answers host-to-guest calls from a table of Go functions.
type fakeGuest struct {
	d        *Dispatcher
	methods  map[string]func(args []any) (any, error)
	begun    []uint64
	released []uint64
	notified []int64
	ended    []endedCall
	bytes    map[int64][]byte
}

type endedCall struct {
	handle    uint64
	succeeded bool
	payload   []byte
}

func (g *fakeGuest) InvokeDotNet(ctx context.Context, assembly, method string, target uint64, args []byte) ([]byte, error) {
	fn, ok := g.methods[method]
	if !ok {
		return nil, errors.UnknownMethod(assembly, method)
	}
	decoded, err := codec.Default().Decode(args, nil)
	if err != nil {
		return nil, err
	}
	for i, a := range decoded {
		if ref, ok := a.(codec.ByteRef); ok {
			decoded[i] = g.bytes[ref.ID]
		}
	}
	out, err := fn(decoded)
	if err != nil {
		return nil, err
	}
	return codec.Default().EncodeValue(out)
}

func (g *fakeGuest) BeginInvokeDotNet(ctx context.Context, callID uint64, assembly, method string, target uint64, args []byte) error {
	g.begun = append(g.begun, callID)
	return nil
}

func (g *fakeGuest) EndInvokeJS(ctx context.Context, asyncHandle uint64, succeeded bool, payload []byte) error {
	g.ended = append(g.ended, endedCall{handle: asyncHandle, succeeded: succeeded, payload: payload})
	return nil
}

func (g *fakeGuest) NotifyByteArrayAvailable(ctx context.Context, id int64) error {
	g.notified = append(g.notified, id)
	data, err := g.d.channel.Retrieve()
	if err != nil {
		return err
	}
	g.bytes[id] = data
	return nil
}

func (g *fakeGuest) ReleaseDotNetObject(ctx context.Context, id uint64) error {
	g.released = append(g.released, id)
	return nil
}

type fixture struct {
	d     *Dispatcher
	guest *fakeGuest
	mem   *sliceMemory
	alloc *bumpAllocator
	heap  *heap.Accessor
}

func newFixture(t *testing.T, methods ...MethodInfo) *fixture {
	t.Helper()

	mem := &sliceMemory{data: make([]byte, 64*1024)}
	alloc := &bumpAllocator{next: 1024, limit: uint32(len(mem.data))}
	acc := heap.New(mem)

	if len(methods) == 0 {
		methods = []MethodInfo{
			{Assembly: "Test", Name: "JoinStrings", Params: []codec.TypeInfo{{Kind: codec.KindText}, {Kind: codec.KindText}}, Result: codec.TypeInfo{Kind: codec.KindText}},
			{Assembly: "Test", Name: "Len", Params: []codec.TypeInfo{{Kind: codec.KindOpaque}}, Result: codec.TypeInfo{Kind: codec.KindNumber}},
			{Assembly: "Test", Name: "JoinStringsAsync", Params: []codec.TypeInfo{{Kind: codec.KindText}, {Kind: codec.KindText}}, Result: codec.TypeInfo{Kind: codec.KindText, Awaitable: true}, Async: true},
		}
	}
	table, err := NewMethodTable(methods)
	require.NoError(t, err)

	d := New()
	g := &fakeGuest{
		d:     d,
		bytes: make(map[int64][]byte),
		methods: map[string]func([]any) (any, error){
			"JoinStrings": func(args []any) (any, error) {
				return args[0].(string) + args[1].(string), nil
			},
			"Len": func(args []any) (any, error) {
				return len(args[0].([]byte)), nil
			},
		},
	}
	require.NoError(t, d.Attach(g, acc, alloc, table))
	t.Cleanup(func() { _ = d.Close() })

	return &fixture{d: d, guest: g, mem: mem, alloc: alloc, heap: acc}
}

// putString writes a managed string object at ptr.
func (f *fixture) putString(t *testing.T, s string) uint32 {
	t.Helper()
	units := utf16.Encode([]rune(s))
	ptr, err := f.alloc.Alloc(uint32(heap.StringCharsOffset+2*len(units)), heap.ObjectAlign)
	require.NoError(t, err)
	require.NoError(t, f.mem.WriteU32(ptr+heap.StringLengthOffset, uint32(len(units))))
	for i, u := range units {
		binary.LittleEndian.PutUint16(f.mem.data[ptr+heap.StringCharsOffset+uint32(2*i):], u)
	}
	return ptr
}

// putBytes writes a managed byte array holding data.
func (f *fixture) putBytes(t *testing.T, data []byte) uint32 {
	t.Helper()
	ptr, err := f.heap.WriteBytes(f.alloc, data)
	require.NoError(t, err)
	return ptr
}

// putCallInfo lays out a CallInfo for a marshalled call with args.
func (f *fixture) putCallInfo(t *testing.T, fn string, rt ResultType, args []any, async, target uint64) uint32 {
	t.Helper()
	fnPtr := f.putString(t, fn)

	var argsPtr uint32
	if args != nil {
		payload, err := codec.Default().Encode(args)
		require.NoError(t, err)
		argsPtr = f.putBytes(t, payload)
	}

	ci, err := f.alloc.Alloc(CallInfoSize, 8)
	require.NoError(t, err)
	require.NoError(t, f.mem.WriteU32(ci+CallInfoFunction, fnPtr))
	require.NoError(t, f.mem.WriteU32(ci+CallInfoResultType, uint32(rt)))
	require.NoError(t, f.mem.WriteU32(ci+CallInfoArgs, argsPtr))
	require.NoError(t, f.mem.WriteU64(ci+CallInfoAsyncHandle, async))
	require.NoError(t, f.mem.WriteU64(ci+CallInfoTarget, target))
	require.NoError(t, f.mem.WriteU32(ci+CallInfoFault, 0))
	return ci
}

// faultAt returns the fault written into the CallInfo at ci, if any.
func (f *fixture) faultAt(t *testing.T, ci uint32) string {
	t.Helper()
	ptr, err := f.mem.ReadU32(ci + CallInfoFault)
	require.NoError(t, err)
	if ptr == 0 {
		return ""
	}
	s, err := f.heap.ReadString(ptr)
	require.NoError(t, err)
	require.NotNil(t, s)
	return *s
}
