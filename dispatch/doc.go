// Package dispatch routes calls between the host and a managed guest.
//
// A Dispatcher owns everything one guest instance needs on the host side:
// the host function table, the host handle registry, the table of pending
// asynchronous calls, the byte transfer channel and the event loop that
// runs asynchronous work.
//
// # Entry points
//
// The guest imports five functions from the host module (DefaultHostModule
// unless configured otherwise):
//
//	invokeJSFromDotNet(callInfo, arg0, arg1, arg2 i32) i32
//	endInvokeDotNetFromJS(callId, success, resultOrError i32)
//	receiveByteArray(id i64, byteArray i32)
//	retrieveByteArray() i32
//	dotNetCriticalError(message i32)
//
// A guest-to-host call is described by a CallInfo in linear memory. Faults
// are written back as a string into its fault slot and the return value is
// zero.
//
// # Host to guest
//
//	out, err := d.Invoke(ctx, "Test", "JoinStrings", "foo", "bar")
//
//	fut, err := d.InvokeAsync(ctx, "Test", "JoinStringsAsync", "foo", "bar")
//	out, err = fut.Await(ctx) // pumps the loop until the guest completes
//
// Byte slice arguments travel ahead through the transfer channel and are
// replaced by codec.ByteRef tokens in the encoded arguments.
package dispatch
