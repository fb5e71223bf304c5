package heap

import (
	"github.com/tetratelabs/wazero/api"

	wasminterop "github.com/wippyai/wasm-interop"
	"github.com/wippyai/wasm-interop/errors"
)

// Wrap adapts a wazero api.Memory to the Memory interface.
func Wrap(mem api.Memory) wasminterop.Memory {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// Wrapper adapts wazero api.Memory to the Memory interface. Failed accesses
// report InvalidHeapAddress with the current memory size.
type Wrapper struct {
	Mem api.Memory
}

// Size returns the current memory size in bytes.
func (m *Wrapper) Size() uint32 {
	return m.Mem.Size()
}

// Read returns a view of length bytes at offset. The view aliases linear
// memory; copy it before the guest can run again.
func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, errors.InvalidHeapAddress(uint64(offset), length, m.Mem.Size())
	}
	return data, nil
}

// Write writes bytes to memory.
func (m *Wrapper) Write(offset uint32, data []byte) error {
	if !m.Mem.Write(offset, data) {
		return errors.InvalidHeapAddress(uint64(offset), uint32(len(data)), m.Mem.Size())
	}
	return nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.InvalidHeapAddress(uint64(offset), 4, m.Mem.Size())
	}
	return v, nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Wrapper) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.Mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.InvalidHeapAddress(uint64(offset), 8, m.Mem.Size())
	}
	return v, nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Wrapper) WriteU32(offset uint32, value uint32) error {
	if !m.Mem.WriteUint32Le(offset, value) {
		return errors.InvalidHeapAddress(uint64(offset), 4, m.Mem.Size())
	}
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Wrapper) WriteU64(offset uint32, value uint64) error {
	if !m.Mem.WriteUint64Le(offset, value) {
		return errors.InvalidHeapAddress(uint64(offset), 8, m.Mem.Size())
	}
	return nil
}
