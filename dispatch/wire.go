package dispatch

import (
	"github.com/tetratelabs/wazero/api"
)

// DefaultHostModule is the module name the guest imports entry points from.
const DefaultHostModule = "Blazor._internal"

// Entry point names. They are part of the wire contract with the guest.
const (
	EntryInvokeJS        = "invokeJSFromDotNet"
	EntryEndInvokeDotNet = "endInvokeDotNetFromJS"
	EntryReceiveBytes    = "receiveByteArray"
	EntryRetrieveBytes   = "retrieveByteArray"
	EntryCriticalError   = "dotNetCriticalError"
)

// EntryPoint is the signature of one host entry point.
type EntryPoint struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// EntryPoints lists every host entry point in import order.
var EntryPoints = []EntryPoint{
	{Name: EntryInvokeJS, Params: []api.ValueType{i32, i32, i32, i32}, Results: []api.ValueType{i32}},
	{Name: EntryEndInvokeDotNet, Params: []api.ValueType{i32, i32, i32}},
	{Name: EntryReceiveBytes, Params: []api.ValueType{i64, i32}},
	{Name: EntryRetrieveBytes, Results: []api.ValueType{i32}},
	{Name: EntryCriticalError, Params: []api.ValueType{i32}},
}

// ResultType tells the host how to hand a guest-to-host call result back.
type ResultType int32

const (
	ResultDefault ResultType = iota
	ResultObjectReference
	ResultStreamReference
	ResultVoid
)

func (r ResultType) String() string {
	switch r {
	case ResultDefault:
		return "default"
	case ResultObjectReference:
		return "object"
	case ResultStreamReference:
		return "stream"
	case ResultVoid:
		return "void"
	default:
		return "unknown"
	}
}

// CallInfo layout in linear memory.
const (
	CallInfoFunction    = 0  // string object ptr
	CallInfoResultType  = 4  // i32
	CallInfoArgs        = 8  // byte array ptr, 0 for unmarshalled calls
	CallInfoAsyncHandle = 12 // u64, 0 for sync calls
	CallInfoTarget      = 20 // u64, 0 for global functions
	CallInfoFault       = 28 // string object ptr written by the host
	CallInfoSize        = 32
)

// DisposeObjectIdentifier is the reserved method a guest calls on a host
// object to dispose it.
const DisposeObjectIdentifier = "__disposeObject"

// CallInfo is the decoded form of a guest-to-host call descriptor.
type CallInfo struct {
	Function    string
	Args        []byte
	AsyncHandle uint64
	Target      uint64
	ResultType  ResultType
	Marshalled  bool
}
