package handle

import (
	"sync"

	"github.com/wippyai/wasm-interop/errors"
)

// arena stores entries keyed by id. Ids are handed out monotonically and are
// never reused; a disposed entry stays behind as a tombstone so that a second
// disposal can be told apart from an id that was never issued.
type arena struct {
	entries []entry
	live    int
	mu      sync.RWMutex
	closed  bool
}

type entry struct {
	value    any
	kind     Kind
	refs     uint32
	disposed bool
}

func newArena() *arena {
	return &arena{
		entries: make([]entry, 0, 64),
	}
}

func (a *arena) create(kind Kind, value any) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, errors.Closed(errors.PhaseHandle, "handle registry")
	}

	a.entries = append(a.entries, entry{kind: kind, value: value})
	a.live++
	return uint64(len(a.entries)), nil
}

// lookup returns the entry for id. The caller must hold the lock.
func (a *arena) lookup(id uint64) (*entry, error) {
	if id == 0 || id > uint64(len(a.entries)) {
		return nil, errors.UnknownHandle(errors.PhaseHandle, id)
	}
	e := &a.entries[id-1]
	if e.disposed {
		return nil, errors.UnknownHandle(errors.PhaseHandle, id)
	}
	return e, nil
}

func (a *arena) get(id uint64) (any, Kind, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, err := a.lookup(id)
	if err != nil {
		return nil, 0, err
	}
	return e.value, e.kind, nil
}

func (a *arena) dispose(id uint64) (any, Kind, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == 0 || id > uint64(len(a.entries)) {
		return nil, 0, errors.UnknownHandle(errors.PhaseHandle, id)
	}

	e := &a.entries[id-1]
	if e.disposed {
		return nil, 0, errors.DoubleFree(errors.PhaseHandle, id)
	}
	if e.refs > 0 {
		return nil, 0, errors.OutstandingRefs(errors.PhaseHandle, id, e.refs)
	}

	value, kind := e.value, e.kind
	e.disposed = true
	e.value = nil
	a.live--

	return value, kind, nil
}

func (a *arena) retain(id uint64) (Kind, uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, err := a.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	e.refs++
	return e.kind, e.refs, nil
}

func (a *arena) release(id uint64) (Kind, uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, err := a.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	if e.refs == 0 {
		return 0, 0, errors.InvalidInput(errors.PhaseHandle, "release without matching retain")
	}
	e.refs--
	return e.kind, e.refs, nil
}

func (a *arena) refCount(id uint64) (uint32, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, err := a.lookup(id)
	if err != nil {
		return 0, err
	}
	return e.refs, nil
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

func (a *arena) each(fn func(uint64, Kind, any) bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for i, e := range a.entries {
		if e.disposed {
			continue
		}
		if !fn(uint64(i+1), e.kind, e.value) {
			break
		}
	}
}

// close marks every live entry disposed and returns the values that were live.
func (a *arena) close() []any {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var values []any
	for i := range a.entries {
		e := &a.entries[i]
		if e.disposed {
			continue
		}
		values = append(values, e.value)
		e.disposed = true
		e.value = nil
	}
	a.live = 0
	return values
}
