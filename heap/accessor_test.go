package heap

import (
	"encoding/binary"
	"errors"
	"testing"
	"unicode/utf16"

	wasmerrors "github.com/wippyai/wasm-interop/errors"
)

// sliceMemory is a fixed-size Memory backed by a byte slice
type sliceMemory struct {
	data []byte
}

func newSliceMemory(size int) *sliceMemory {
	return &sliceMemory{data: make([]byte, size)}
}

func (m *sliceMemory) Size() uint32 { return uint32(len(m.data)) }

func (m *sliceMemory) Read(offset, length uint32) ([]byte, error) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.data)) {
		return nil, wasmerrors.InvalidHeapAddress(uint64(offset), length, m.Size())
	}
	return m.data[offset:end], nil
}

func (m *sliceMemory) Write(offset uint32, data []byte) error {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.data)) {
		return wasmerrors.InvalidHeapAddress(uint64(offset), uint32(len(data)), m.Size())
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

// bumpAllocator hands out increasing aligned offsets
type bumpAllocator struct {
	next  uint32
	limit uint32
}

func (a *bumpAllocator) Alloc(size, align uint32) (uint32, error) {
	ptr := (a.next + align - 1) &^ (align - 1)
	if ptr+size > a.limit {
		return 0, wasmerrors.AllocationFailed(wasmerrors.PhaseHeap, size, align)
	}
	a.next = ptr + size
	return ptr, nil
}

func (a *bumpAllocator) Free(ptr, size, align uint32) {}

// putString lays out a managed string by hand at ptr
func putString(m *sliceMemory, ptr uint32, s string) {
	units := utf16.Encode([]rune(s))
	binary.LittleEndian.PutUint32(m.data[ptr+StringLengthOffset:], uint32(len(units)))
	for i, u := range units {
		binary.LittleEndian.PutUint16(m.data[ptr+StringCharsOffset+uint32(i*2):], u)
	}
}

func TestAccessor_ReadIntegers(t *testing.T) {
	m := newSliceMemory(64)
	binary.LittleEndian.PutUint32(m.data[0:], 0xFFFFFFFE)
	binary.LittleEndian.PutUint64(m.data[8:], uint64(MaxSafeHigh)<<32|7)
	binary.LittleEndian.PutUint64(m.data[16:], uint64(MaxSafeHigh+1)<<32)
	acc := New(m)

	i, err := acc.ReadInt32(0)
	if err != nil || i != -2 {
		t.Fatalf("ReadInt32 = %d, %v", i, err)
	}
	u, err := acc.ReadUint32(0)
	if err != nil || u != 0xFFFFFFFE {
		t.Fatalf("ReadUint32 = %d, %v", u, err)
	}

	v, err := acc.ReadUint64(8)
	if err != nil {
		t.Fatalf("ReadUint64 at safe limit: %v", err)
	}
	if v != uint64(MaxSafeHigh)<<32|7 {
		t.Fatalf("ReadUint64 = %d", v)
	}
	if float64(v) != float64(int64(v)) || uint64(float64(v)) != v {
		t.Fatalf("value %d not exactly representable", v)
	}

	if _, err := acc.ReadUint64(16); !errors.Is(err, wasmerrors.ErrRangeOverflow) {
		t.Fatalf("ReadUint64 past safe range: got %v", err)
	}
}

func TestAccessor_OutOfBounds(t *testing.T) {
	acc := New(newSliceMemory(16))

	tests := []struct {
		name string
		fn   func() error
	}{
		{"ReadInt32", func() error { _, err := acc.ReadInt32(13); return err }},
		{"ReadUint64", func() error { _, err := acc.ReadUint64(9); return err }},
		{"ReadObject field", func() error { _, err := acc.ReadObject(0xFFFFFFFF, 4); return err }},
		{"ReadString", func() error { _, err := acc.ReadString(100); return err }},
		{"ReadBytes", func() error { _, err := acc.ReadBytes(8); return err }},
		{"WriteUint64", func() error { return acc.WriteUint64(12, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, wasmerrors.ErrInvalidHeapAddress) {
				t.Errorf("got %v, want InvalidHeapAddress", err)
			}
		})
	}
}

func TestAccessor_ReadObject(t *testing.T) {
	m := newSliceMemory(256)
	putString(m, 64, "héllo 🌍")
	binary.LittleEndian.PutUint32(m.data[0:], 64) // field 0 -> string
	acc := New(m)

	s, err := acc.ReadObject(0, 0)
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if s == nil || *s != "héllo 🌍" {
		t.Fatalf("ReadObject = %v", s)
	}

	s, err = acc.ReadObject(0, 4) // field 1 is zero
	if err != nil || s != nil {
		t.Fatalf("zero field: %v, %v", s, err)
	}
}

func TestAccessor_StringTruncated(t *testing.T) {
	m := newSliceMemory(32)
	binary.LittleEndian.PutUint32(m.data[8+StringLengthOffset:], 100)
	acc := New(m)

	if _, err := acc.ReadString(8); !errors.Is(err, wasmerrors.ErrInvalidHeapAddress) {
		t.Fatalf("got %v, want InvalidHeapAddress", err)
	}
}

func TestAccessor_ReadBytesCopies(t *testing.T) {
	m := newSliceMemory(64)
	binary.LittleEndian.PutUint32(m.data[8+ArrayLengthOffset:], 3)
	copy(m.data[8+ArrayDataOffset:], []byte{1, 2, 3})
	acc := New(m)

	b, err := acc.ReadBytes(8)
	if err != nil {
		t.Fatal(err)
	}
	m.data[8+ArrayDataOffset] = 9
	if b[0] != 1 || len(b) != 3 {
		t.Fatalf("ReadBytes did not copy: %v", b)
	}
}

func TestAccessor_WriteRoundTrip(t *testing.T) {
	m := newSliceMemory(512)
	alloc := &bumpAllocator{next: 8, limit: 512}
	acc := New(m)

	sp, err := acc.WriteString(alloc, "Ünïcode ✓")
	if err != nil {
		t.Fatal(err)
	}
	if sp%ObjectAlign != 0 {
		t.Fatalf("string at unaligned %d", sp)
	}
	s, err := acc.ReadString(sp)
	if err != nil || *s != "Ünïcode ✓" {
		t.Fatalf("ReadString = %v, %v", s, err)
	}

	bp, err := acc.WriteBytes(alloc, []byte{0, 255, 7})
	if err != nil {
		t.Fatal(err)
	}
	b, err := acc.ReadBytes(bp)
	if err != nil || string(b) != string([]byte{0, 255, 7}) {
		t.Fatalf("ReadBytes = %v, %v", b, err)
	}

	empty, err := acc.WriteString(alloc, "")
	if err != nil {
		t.Fatal(err)
	}
	s, err = acc.ReadString(empty)
	if err != nil || s == nil || *s != "" {
		t.Fatalf("empty string = %v, %v", s, err)
	}
}

func TestAccessor_WriteAllocationFailure(t *testing.T) {
	acc := New(newSliceMemory(64))
	alloc := &bumpAllocator{next: 8, limit: 16}

	if _, err := acc.WriteString(alloc, "too long for sixteen bytes"); !errors.Is(err, &wasmerrors.Error{Kind: wasmerrors.KindAllocation}) {
		t.Fatalf("got %v, want allocation error", err)
	}
}
