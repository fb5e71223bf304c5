// Package transfer relays raw byte buffers from the host to the guest.
//
// The channel holds at most one payload. Send fills the slot and notifies the
// guest with the payload id; the guest pulls the bytes back through the
// retrieve entry point, which empties the slot. Retrieving from an empty slot
// fails with NoPendingPayload.
package transfer
