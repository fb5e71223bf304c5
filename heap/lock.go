package heap

import (
	"github.com/wippyai/wasm-interop/errors"
)

// Lock guards the heap for the duration of one call's argument decoding.
// While it is held, strings are decoded only through the lock, which caches
// them by address; the cache is dropped on Release.
type Lock struct {
	a     *Accessor
	cache map[uint32]string
}

// Lock acquires the heap lock. It fails fast with ReentrantHeapAccess if a
// lock is already held.
func (a *Accessor) Lock() (*Lock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lock != nil {
		return nil, errors.ReentrantHeapAccess("heap is already locked by another decoder")
	}
	l := &Lock{a: a, cache: make(map[uint32]string)}
	a.lock = l
	return l, nil
}

// Locked reports whether a heap lock is currently held.
func (a *Accessor) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lock != nil
}

// AssertUnlocked fails with ReentrantHeapAccess while a heap lock is held.
func (a *Accessor) AssertUnlocked(op string) error {
	if a.Locked() {
		return errors.ReentrantHeapAccess(op + " while the heap is locked")
	}
	return nil
}

func (l *Lock) active() error {
	l.a.mu.Lock()
	defer l.a.mu.Unlock()
	if l.a.lock != l {
		return errors.ReentrantHeapAccess("heap lock has been released")
	}
	return nil
}

// ReadObject reads the string referenced by the pointer field at base+offset.
func (l *Lock) ReadObject(base, offset uint32) (*string, error) {
	if err := l.active(); err != nil {
		return nil, err
	}
	return l.a.readObject(base, offset, l.cache)
}

// ReadString decodes the string object at ptr.
func (l *Lock) ReadString(ptr uint32) (*string, error) {
	if err := l.active(); err != nil {
		return nil, err
	}
	return l.a.decodeString(ptr, l.cache)
}

// ReadInt32 reads a signed 32-bit value.
func (l *Lock) ReadInt32(addr uint32) (int32, error) {
	return l.a.ReadInt32(addr)
}

// ReadUint32 reads an unsigned 32-bit value.
func (l *Lock) ReadUint32(addr uint32) (uint32, error) {
	return l.a.ReadUint32(addr)
}

// ReadUint64 reads an unsigned 64-bit value.
func (l *Lock) ReadUint64(addr uint32) (uint64, error) {
	return l.a.ReadUint64(addr)
}

// ReadBytes copies the managed byte array at arrayPtr.
func (l *Lock) ReadBytes(arrayPtr uint32) ([]byte, error) {
	if err := l.active(); err != nil {
		return nil, err
	}
	return l.a.ReadBytes(arrayPtr)
}

// Cached returns the number of strings decoded through this lock.
func (l *Lock) Cached() int {
	return len(l.cache)
}

// Release drops the lock and its string cache. Releasing twice is a no-op.
func (l *Lock) Release() {
	l.a.mu.Lock()
	defer l.a.mu.Unlock()
	if l.a.lock == l {
		l.a.lock = nil
	}
	l.cache = nil
}
