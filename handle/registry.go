package handle

import (
	"sync"

	"github.com/wippyai/wasm-interop/errors"
)

// Registry is the handle arena for one side of the boundary.
type Registry struct {
	arena     *arena
	observers []subscription
	nextObs   uint64
	obsMu     sync.RWMutex
	owner     Side
}

type subscription struct {
	o  Observer
	id uint64
}

// NewRegistry creates an empty registry owned by side.
func NewRegistry(owner Side) *Registry {
	return &Registry{
		arena: newArena(),
		owner: owner,
	}
}

// Owner returns the side that owns the values in this registry.
func (r *Registry) Owner() Side {
	return r.owner
}

// Create stores value and returns its reference. Once the registry has been
// closed it fails with Closed.
func (r *Registry) Create(value any, kind Kind) (Ref, error) {
	id, err := r.arena.create(kind, value)
	if err != nil {
		return Ref{}, err
	}

	ref := Ref{ID: id, Kind: kind, Owner: r.owner}
	r.notify(Event{Type: EventCreated, Ref: ref, Value: value})
	return ref, nil
}

// Resolve returns the value for id.
func (r *Registry) Resolve(id uint64) (any, error) {
	value, _, err := r.arena.get(id)
	return value, err
}

// ResolveKind returns the value for id only if it was created with kind.
func (r *Registry) ResolveKind(id uint64, kind Kind) (any, error) {
	value, actual, err := r.arena.get(id)
	if err != nil {
		return nil, err
	}
	if actual != kind {
		return nil, errors.New(errors.PhaseHandle, errors.KindUnknownHandle).
			Value(id).
			Detail("handle %d is a %s handle, not %s", id, actual, kind).
			Build()
	}
	return value, nil
}

// ResolveRef resolves a boundary token. Tokens owned by the other side cannot
// be dereferenced here.
func (r *Registry) ResolveRef(ref Ref) (any, error) {
	if ref.Owner != r.owner {
		return nil, errors.New(errors.PhaseHandle, errors.KindUnknownHandle).
			Value(ref.ID).
			Detail("handle %d is owned by the %s side", ref.ID, ref.Owner).
			Build()
	}
	return r.ResolveKind(ref.ID, ref.Kind)
}

// Dispose destroys the handle. A second disposal fails with DoubleFree, an id
// that was never issued fails with UnknownHandle, and a handle that is still
// retained fails with OutstandingRefs and stays live.
func (r *Registry) Dispose(id uint64) error {
	value, kind, err := r.arena.dispose(id)
	if err != nil {
		return err
	}

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	r.notify(Event{
		Type:  EventDisposed,
		Ref:   Ref{ID: id, Kind: kind, Owner: r.owner},
		Value: value,
	})
	return nil
}

// Retain marks id as referenced by an in-flight operation.
func (r *Registry) Retain(id uint64) error {
	kind, refs, err := r.arena.retain(id)
	if err != nil {
		return err
	}
	r.notify(Event{Type: EventRetained, Ref: Ref{ID: id, Kind: kind, Owner: r.owner}, Refs: refs})
	return nil
}

// Release drops a reference taken with Retain.
func (r *Registry) Release(id uint64) error {
	kind, refs, err := r.arena.release(id)
	if err != nil {
		return err
	}
	r.notify(Event{Type: EventReleased, Ref: Ref{ID: id, Kind: kind, Owner: r.owner}, Refs: refs})
	return nil
}

// RefCount returns the number of outstanding references to id.
func (r *Registry) RefCount(id uint64) (uint32, error) {
	return r.arena.refCount(id)
}

// Subscribe adds an observer for lifecycle events. The returned func removes
// it again; calling it more than once is harmless.
func (r *Registry) Subscribe(o Observer) (unsubscribe func()) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.nextObs++
	id := r.nextObs
	r.observers = append(r.observers, subscription{id: id, o: o})

	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		for i, sub := range r.observers {
			if sub.id == id {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	return r.arena.len()
}

// Each iterates over live handles in creation order.
func (r *Registry) Each(fn func(Ref, any) bool) {
	r.arena.each(func(id uint64, kind Kind, value any) bool {
		return fn(Ref{ID: id, Kind: kind, Owner: r.owner}, value)
	})
}

// Close disposes every live handle and stops accepting new ones.
func (r *Registry) Close() error {
	for _, value := range r.arena.close() {
		if d, ok := value.(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, sub := range r.observers {
		sub.o.OnHandleEvent(e)
	}
}
