// Package fault carries errors across the boundary as strings.
//
// A fault is captured on the side where it happened, encoded as
// "<kind>: <message>" with an optional trace on the following lines, and
// raised again on the receiving side as a *RemoteError:
//
//	cbe := fault.Guard(func() error { return callback(args) })
//	wire := cbe.Encode()
//	...
//	err := fault.Raise(fault.Parse(wire))
//	errors.Is(err, wasmerrors.ErrRemoteFault) // true
package fault
