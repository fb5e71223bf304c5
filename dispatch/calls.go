package dispatch

import (
	"strconv"
	"sync"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/errors"
)

// Direction is the way a call crosses the boundary.
type Direction uint8

const (
	HostToGuest Direction = iota + 1
	GuestToHost
)

func (d Direction) String() string {
	switch d {
	case HostToGuest:
		return "host->guest"
	case GuestToHost:
		return "guest->host"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a CallRecord.
type State uint8

const (
	StateIssued State = iota + 1
	StateResolved
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateResolved:
		return "resolved"
	case StateFaulted:
		return "faulted"
	default:
		return "idle"
	}
}

// CallRecord tracks one asynchronous call from issue to completion. Only the
// owning CallTable mutates it.
type CallRecord struct {
	Result    any
	Err       error
	done      chan struct{}
	Method    string
	ID        uint64
	Target    uint64
	Kind      codec.Kind
	Direction Direction
	state     State
	mu        sync.Mutex
}

// State returns the current state.
func (r *CallRecord) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the call resolves or faults.
func (r *CallRecord) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the completion value and error. ok is false while the
// call is still pending.
func (r *CallRecord) Outcome() (result any, err error, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateIssued {
		return nil, nil, false
	}
	return r.Result, r.Err, true
}

// CallTable is the pending-operation table for one direction. Ids increase
// monotonically and are never handed out twice; an id leaves the table when
// its completion is delivered.
type CallTable struct {
	pending   map[uint64]*CallRecord
	next      uint64
	direction Direction
	mu        sync.Mutex
}

// NewCallTable creates an empty table for calls in direction dir.
func NewCallTable(dir Direction) *CallTable {
	return &CallTable{
		pending:   make(map[uint64]*CallRecord),
		direction: dir,
	}
}

// Issue registers a new pending call and returns its record.
func (t *CallTable) Issue(method string, target uint64, kind codec.Kind) *CallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	rec := &CallRecord{
		ID:        t.next,
		Method:    method,
		Target:    target,
		Kind:      kind,
		Direction: t.direction,
		state:     StateIssued,
		done:      make(chan struct{}),
	}
	t.pending[rec.ID] = rec
	return rec
}

// Lookup returns the pending record for id.
func (t *CallTable) Lookup(id uint64) (*CallRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.pending[id]
	if !ok {
		return nil, errors.UnknownCall(errors.PhaseDispatch, id)
	}
	return rec, nil
}

// Resolve completes call id with value.
func (t *CallTable) Resolve(id uint64, value any) error {
	return t.complete(id, value, nil)
}

// Reject completes call id with err.
func (t *CallTable) Reject(id uint64, err error) error {
	if err == nil {
		err = errors.InvalidInput(errors.PhaseDispatch, "reject without error")
	}
	return t.complete(id, nil, err)
}

func (t *CallTable) complete(id uint64, value any, err error) error {
	t.mu.Lock()
	rec, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return errors.UnknownCall(errors.PhaseDispatch, id)
	}

	rec.mu.Lock()
	rec.Result, rec.Err = value, err
	if err != nil {
		rec.state = StateFaulted
	} else {
		rec.state = StateResolved
	}
	rec.mu.Unlock()
	close(rec.done)
	return nil
}

// Len returns the number of pending calls.
func (t *CallTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// RejectAll faults every pending call with err.
func (t *CallTable) RejectAll(err error) {
	t.mu.Lock()
	ids := make([]uint64, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		_ = t.Reject(id, err)
	}
}

// FormatCallID renders a call id as carried in completion signals.
func FormatCallID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseCallID parses a call id carried in a completion signal.
func ParseCallID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New(errors.PhaseDispatch, errors.KindUnknownCall).
			Value(s).
			Detail("malformed call id %q", s).
			Build()
	}
	return id, nil
}
