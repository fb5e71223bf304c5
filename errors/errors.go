package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseHeap     Phase = "heap"     // linear memory reads and writes
	PhaseHandle   Phase = "handle"   // handle registry lifetime
	PhaseTransfer Phase = "transfer" // byte transfer channel
	PhaseEncode   Phase = "encode"   // Go to payload
	PhaseDecode   Phase = "decode"   // payload to Go
	PhaseDispatch Phase = "dispatch" // call routing and completion
	PhaseGuest    Phase = "guest"    // managed runtime side
	PhaseRemote   Phase = "remote"   // fault raised by the other side
	PhaseLoad     Phase = "load"     // module loading and boot
	PhaseConfig   Phase = "config"   // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindLookup              Kind = "lookup"
	KindUnknownHandle       Kind = "unknown_handle"
	KindDoubleFree          Kind = "double_free"
	KindOutstandingRefs     Kind = "outstanding_refs"
	KindUnknownCall         Kind = "unknown_call"
	KindInvalidHeapAddress  Kind = "invalid_heap_address"
	KindRangeOverflow       Kind = "range_overflow"
	KindReentrantHeapAccess Kind = "reentrant_heap_access"
	KindNoPendingPayload    Kind = "no_pending_payload"
	KindRemoteFault         Kind = "remote_fault"

	KindTypeMismatch   Kind = "type_mismatch"
	KindInvalidData    Kind = "invalid_data"
	KindInvalidInput   Kind = "invalid_input"
	KindAllocation     Kind = "allocation"
	KindNotInitialized Kind = "not_initialized"
	KindInstantiation  Kind = "instantiation"
	KindClosed         Kind = "closed"
)

// taxonomy lists the kinds that may cross the boundary and be rebuilt on the
// receiving side.
var taxonomy = map[Kind]bool{
	KindLookup:              true,
	KindUnknownHandle:       true,
	KindDoubleFree:          true,
	KindOutstandingRefs:     true,
	KindUnknownCall:         true,
	KindInvalidHeapAddress:  true,
	KindRangeOverflow:       true,
	KindReentrantHeapAccess: true,
	KindNoPendingPayload:    true,
	KindRemoteFault:         true,
	KindTypeMismatch:        true,
	KindInvalidData:         true,
	KindInvalidInput:        true,
	KindAllocation:          true,
	KindClosed:              true,
}

// IsTaxonomy reports whether name is one of the error kinds defined here.
func IsTaxonomy(name string) bool {
	return taxonomy[Kind(name)]
}

// Sentinels for errors.Is matching. They carry no phase, so they match an
// error of the same kind raised in any phase.
var (
	ErrLookup              = &Error{Kind: KindLookup}
	ErrUnknownHandle       = &Error{Kind: KindUnknownHandle}
	ErrDoubleFree          = &Error{Kind: KindDoubleFree}
	ErrOutstandingRefs     = &Error{Kind: KindOutstandingRefs}
	ErrUnknownCall         = &Error{Kind: KindUnknownCall}
	ErrInvalidHeapAddress  = &Error{Kind: KindInvalidHeapAddress}
	ErrRangeOverflow       = &Error{Kind: KindRangeOverflow}
	ErrReentrantHeapAccess = &Error{Kind: KindReentrantHeapAccess}
	ErrNoPendingPayload    = &Error{Kind: KindNoPendingPayload}
	ErrRemoteFault         = &Error{Kind: KindRemoteFault}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrTypeMismatch        = &Error{Kind: KindTypeMismatch}
	ErrClosed              = &Error{Kind: KindClosed}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the detail text, or the kind when no detail was recorded.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the interop taxonomy

// UnknownAssembly creates a lookup error for an assembly that is not loaded.
func UnknownAssembly(assembly string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindLookup,
		Detail: fmt.Sprintf("There is no loaded assembly with the name '%s'.", assembly),
		Value:  assembly,
	}
}

// UnknownMethod creates a lookup error for a method that is not exposed.
func UnknownMethod(assembly, method string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindLookup,
		Detail: fmt.Sprintf("The assembly '%s' does not contain a public invokable method with identifier %q.", assembly, method),
		Value:  method,
	}
}

// UnknownFunction creates a lookup error for a host function or host object
// method that is not registered.
func UnknownFunction(identifier string, target uint64) *Error {
	detail := fmt.Sprintf("no host function registered with identifier %q", identifier)
	if target != 0 {
		detail = fmt.Sprintf("host object %d has no method %q", target, identifier)
	}
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindLookup,
		Detail: detail,
		Value:  identifier,
	}
}

// UnknownHandle creates an error for a handle id that does not resolve.
func UnknownHandle(phase Phase, id uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownHandle,
		Detail: fmt.Sprintf("handle %d does not exist or has been disposed", id),
		Value:  id,
	}
}

// DoubleFree creates an error for a second disposal of the same handle.
func DoubleFree(phase Phase, id uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDoubleFree,
		Detail: fmt.Sprintf("handle %d was already disposed", id),
		Value:  id,
	}
}

// OutstandingRefs creates an error for disposing a handle that is still referenced.
func OutstandingRefs(phase Phase, id uint64, refs uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutstandingRefs,
		Detail: fmt.Sprintf("handle %d disposed with %d outstanding reference(s)", id, refs),
		Value:  id,
	}
}

// UnknownCall creates an error for a completion signal that matches no pending call.
func UnknownCall(phase Phase, id uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownCall,
		Detail: fmt.Sprintf("no pending call with id %d", id),
		Value:  id,
	}
}

// InvalidHeapAddress creates an error for a read or write outside linear memory.
func InvalidHeapAddress(addr uint64, length, size uint32) *Error {
	return &Error{
		Phase:  PhaseHeap,
		Kind:   KindInvalidHeapAddress,
		Detail: fmt.Sprintf("address %d (+%d bytes) outside heap of %d bytes", addr, length, size),
		Value:  addr,
	}
}

// RangeOverflow creates an error for a value that does not fit the host's numeric kind.
func RangeOverflow(addr uint32, high uint32) *Error {
	return &Error{
		Phase:  PhaseHeap,
		Kind:   KindRangeOverflow,
		Detail: fmt.Sprintf("cannot read uint64 at %d with high part %d, because the result would exceed the safe integer range", addr, high),
		Value:  high,
	}
}

// ReentrantHeapAccess creates an error for a heap lock discipline violation.
func ReentrantHeapAccess(detail string) *Error {
	return &Error{
		Phase:  PhaseHeap,
		Kind:   KindReentrantHeapAccess,
		Detail: detail,
	}
}

// NoPendingPayload creates an error for a retrieval from an empty byte slot.
func NoPendingPayload() *Error {
	return &Error{
		Phase:  PhaseTransfer,
		Kind:   KindNoPendingPayload,
		Detail: "Byte array not available for transfer",
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, want string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		Detail: "expected " + want,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// NotInitialized creates a not-initialized error for a missing component
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Closed creates an error for use after Close.
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate guest module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}
