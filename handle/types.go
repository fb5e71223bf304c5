package handle

import "strconv"

// Kind is the category of value a handle refers to.
type Kind uint8

const (
	KindObject Kind = iota + 1
	KindFunction
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	case KindStream:
		return "stream"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Side identifies which runtime owns a registry and the values in it.
type Side uint8

const (
	SideHost Side = iota + 1
	SideGuest
)

func (s Side) String() string {
	switch s {
	case SideHost:
		return "host"
	case SideGuest:
		return "guest"
	default:
		return "side(" + strconv.Itoa(int(s)) + ")"
	}
}

// Ref is the id-only token that crosses the boundary. It never carries the
// value and never implies ownership transfer: only the owning side disposes.
// ID 0 is reserved and always invalid.
type Ref struct {
	ID    uint64
	Kind  Kind
	Owner Side
}

// IsZero reports whether r is the invalid reference.
func (r Ref) IsZero() bool {
	return r.ID == 0
}

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDisposed
	EventRetained
	EventReleased
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDisposed:
		return "disposed"
	case EventRetained:
		return "retained"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Event represents a handle lifecycle event.
type Event struct {
	Value any
	Ref   Ref
	Refs  uint32
	Type  EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Dropper is optionally implemented by values that need cleanup when their
// handle is disposed or the registry is closed.
type Dropper interface {
	Drop()
}
