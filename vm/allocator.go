package vm

import (
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-interop/errors"
)

const pageSize = 65536

// Allocator is a bump allocator over the guest's linear memory. Memory is
// reclaimed in frames: Mark records the top, Reset rewinds to it. Free is a
// no-op.
type Allocator struct {
	mem  api.Memory
	base uint32
	top  uint32
	mu   sync.Mutex
}

// NewAllocator creates an allocator handing out memory from base upwards.
// Address 0 is never returned.
func NewAllocator(mem api.Memory, base uint32) *Allocator {
	if base == 0 {
		base = 8
	}
	return &Allocator{mem: mem, base: base, top: base}
}

// Alloc reserves size bytes aligned to align, growing memory when needed.
func (a *Allocator) Alloc(size, align uint32) (uint32, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, errors.InvalidInput(errors.PhaseHeap, "alignment must be a power of two")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := (uint64(a.top) + uint64(align) - 1) &^ (uint64(align) - 1)
	end := start + uint64(size)
	if end > 0xFFFFFFFF {
		return 0, errors.AllocationFailed(errors.PhaseHeap, size, align)
	}
	if cur := uint64(a.mem.Size()); end > cur {
		pages := (end - cur + pageSize - 1) / pageSize
		if _, ok := a.mem.Grow(uint32(pages)); !ok {
			return 0, errors.AllocationFailed(errors.PhaseHeap, size, align)
		}
	}
	a.top = uint32(end)
	return uint32(start), nil
}

// Free does nothing; memory is reclaimed by Reset.
func (a *Allocator) Free(ptr, size, align uint32) {}

// Mark returns the current top of the heap.
func (a *Allocator) Mark() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.top
}

// Reset rewinds the heap to mark. Marks below the base are ignored.
func (a *Allocator) Reset(mark uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if mark >= a.base && mark <= a.top {
		a.top = mark
	}
}

// Used returns the number of bytes currently allocated.
func (a *Allocator) Used() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.top - a.base
}
