package heap

import (
	"encoding/binary"
	"sync"

	"golang.org/x/text/encoding/unicode"

	wasminterop "github.com/wippyai/wasm-interop"
	"github.com/wippyai/wasm-interop/errors"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Accessor provides typed, bounds-checked reads of linear memory. It owns
// nothing; every pointer it follows belongs to the guest.
type Accessor struct {
	mem  wasminterop.Memory
	mu   sync.Mutex
	lock *Lock
}

// New creates an accessor over mem.
func New(mem wasminterop.Memory) *Accessor {
	return &Accessor{mem: mem}
}

// Memory returns the underlying memory.
func (a *Accessor) Memory() wasminterop.Memory {
	return a.mem
}

// Size returns the current memory size, or 0 when the memory cannot report it.
func (a *Accessor) Size() uint32 {
	if s, ok := a.mem.(wasminterop.MemorySizer); ok {
		return s.Size()
	}
	return 0
}

// check validates that [addr, addr+length) lies inside linear memory.
func (a *Accessor) check(addr uint64, length uint32) error {
	s, ok := a.mem.(wasminterop.MemorySizer)
	if !ok {
		if addr > 0xFFFFFFFF {
			return errors.InvalidHeapAddress(addr, length, 0)
		}
		return nil
	}
	size := s.Size()
	if addr+uint64(length) > uint64(size) {
		return errors.InvalidHeapAddress(addr, length, size)
	}
	return nil
}

// ReadInt32 reads a signed 32-bit value.
func (a *Accessor) ReadInt32(addr uint32) (int32, error) {
	v, err := a.ReadUint32(addr)
	return int32(v), err
}

// ReadUint32 reads an unsigned 32-bit value.
func (a *Accessor) ReadUint32(addr uint32) (uint32, error) {
	if err := a.check(uint64(addr), 4); err != nil {
		return 0, err
	}
	return a.mem.ReadU32(addr)
}

// ReadUint64 reads an unsigned 64-bit value. Values whose high word exceeds
// MaxSafeHigh fail with RangeOverflow, since they cannot survive conversion
// to the host's generic numeric kind.
func (a *Accessor) ReadUint64(addr uint32) (uint64, error) {
	if err := a.check(uint64(addr), 8); err != nil {
		return 0, err
	}
	v, err := a.mem.ReadU64(addr)
	if err != nil {
		return 0, err
	}
	if high := uint32(v >> 32); high > MaxSafeHigh {
		return 0, errors.RangeOverflow(addr, high)
	}
	return v, nil
}

// ReadObject reads the string object referenced by the pointer field at
// base+offset. A zero field yields nil.
//
// Fails with ReentrantHeapAccess while a Lock is held; decode through the
// lock instead.
func (a *Accessor) ReadObject(base, offset uint32) (*string, error) {
	if a.Locked() {
		return nil, errors.ReentrantHeapAccess("string decode outside the active heap lock")
	}
	return a.readObject(base, offset, nil)
}

// ReadString decodes the string object at ptr. A zero ptr yields nil.
func (a *Accessor) ReadString(ptr uint32) (*string, error) {
	if a.Locked() {
		return nil, errors.ReentrantHeapAccess("string decode outside the active heap lock")
	}
	return a.decodeString(ptr, nil)
}

func (a *Accessor) readObject(base, offset uint32, cache map[uint32]string) (*string, error) {
	field := uint64(base) + uint64(offset)
	if err := a.check(field, 4); err != nil {
		return nil, err
	}
	ptr, err := a.mem.ReadU32(uint32(field))
	if err != nil {
		return nil, err
	}
	return a.decodeString(ptr, cache)
}

func (a *Accessor) decodeString(ptr uint32, cache map[uint32]string) (*string, error) {
	if ptr == 0 {
		return nil, nil
	}
	if s, ok := cache[ptr]; ok {
		return &s, nil
	}

	if err := a.check(uint64(ptr), StringCharsOffset); err != nil {
		return nil, err
	}
	n, err := a.mem.ReadU32(ptr + StringLengthOffset)
	if err != nil {
		return nil, err
	}
	length := int32(n)
	if length < 0 {
		return nil, errors.InvalidData(errors.PhaseHeap, nil, "negative string length")
	}

	chars := uint64(ptr) + StringCharsOffset
	byteLen := uint64(length) * 2
	if byteLen > 0xFFFFFFFF {
		return nil, errors.InvalidHeapAddress(chars, 0xFFFFFFFF, a.Size())
	}
	if err := a.check(chars, uint32(byteLen)); err != nil {
		return nil, err
	}
	raw, err := a.mem.Read(uint32(chars), uint32(byteLen))
	if err != nil {
		return nil, err
	}

	decoded, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHeap, errors.KindInvalidData, err, "decode UTF-16 string")
	}
	s := string(decoded)
	if cache != nil {
		cache[ptr] = s
	}
	return &s, nil
}

// ReadBytes copies the contents of the managed byte array at arrayPtr.
func (a *Accessor) ReadBytes(arrayPtr uint32) ([]byte, error) {
	if arrayPtr == 0 {
		return nil, errors.InvalidHeapAddress(0, ArrayDataOffset, a.Size())
	}
	if err := a.check(uint64(arrayPtr), ArrayDataOffset); err != nil {
		return nil, err
	}
	n, err := a.mem.ReadU32(arrayPtr + ArrayLengthOffset)
	if err != nil {
		return nil, err
	}
	length := int32(n)
	if length < 0 {
		return nil, errors.InvalidData(errors.PhaseHeap, nil, "negative array length")
	}

	data := uint64(arrayPtr) + ArrayDataOffset
	if err := a.check(data, uint32(length)); err != nil {
		return nil, err
	}
	view, err := a.mem.Read(uint32(data), uint32(length))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// WriteInt32 writes a signed 32-bit value.
func (a *Accessor) WriteInt32(addr uint32, v int32) error {
	if err := a.check(uint64(addr), 4); err != nil {
		return err
	}
	return a.mem.WriteU32(addr, uint32(v))
}

// WriteUint32 writes an unsigned 32-bit value.
func (a *Accessor) WriteUint32(addr uint32, v uint32) error {
	if err := a.check(uint64(addr), 4); err != nil {
		return err
	}
	return a.mem.WriteU32(addr, v)
}

// WriteUint64 writes an unsigned 64-bit value.
func (a *Accessor) WriteUint64(addr uint32, v uint64) error {
	if err := a.check(uint64(addr), 8); err != nil {
		return err
	}
	return a.mem.WriteU64(addr, v)
}

// WriteString allocates a managed string object holding s and returns its
// address. Allocation may move guest state, so it is refused while a Lock is
// held.
func (a *Accessor) WriteString(alloc wasminterop.Allocator, s string) (uint32, error) {
	if a.Locked() {
		return 0, errors.ReentrantHeapAccess("cannot allocate a string while the heap is locked")
	}
	units, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseHeap, errors.KindInvalidData, err, "encode UTF-16 string")
	}

	size := uint32(StringCharsOffset + len(units))
	ptr, err := alloc.Alloc(size, ObjectAlign)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseHeap, errors.KindAllocation, err, "allocate string")
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[StringLengthOffset:], uint32(len(units)/2))
	copy(buf[StringCharsOffset:], units)
	if err := a.mem.Write(ptr, buf); err != nil {
		return 0, err
	}
	return ptr, nil
}

// WriteBytes allocates a managed byte array holding data and returns its
// address.
func (a *Accessor) WriteBytes(alloc wasminterop.Allocator, data []byte) (uint32, error) {
	if a.Locked() {
		return 0, errors.ReentrantHeapAccess("cannot allocate an array while the heap is locked")
	}

	size := uint32(ArrayDataOffset + len(data))
	ptr, err := alloc.Alloc(size, ObjectAlign)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseHeap, errors.KindAllocation, err, "allocate byte array")
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[ArrayLengthOffset:], uint32(len(data)))
	copy(buf[ArrayDataOffset:], data)
	if err := a.mem.Write(ptr, buf); err != nil {
		return 0, err
	}
	return ptr, nil
}
