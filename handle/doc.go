// Package handle provides the per-side handle registry.
//
// Each side of the boundary owns one Registry. Values never cross the
// boundary; only Ref tokens do, and a Ref can only be dereferenced by the
// registry of the side that created it.
//
//	reg := handle.NewRegistry(handle.SideHost)
//	ref, err := reg.Create(obj, handle.KindObject)
//
//	v, err := reg.Resolve(ref.ID)
//	err = reg.Dispose(ref.ID) // nil
//	err = reg.Dispose(ref.ID) // errors.ErrDoubleFree
//
// # Lifetime
//
// Ids are monotonically increasing and never reused. Disposed ids are kept as
// tombstones, so resolving one fails with UnknownHandle and disposing it again
// fails with DoubleFree.
//
// Retain and Release count references held by in-flight calls. Disposing a
// handle while its count is above zero fails with OutstandingRefs and leaves
// the handle live.
//
// # Observers
//
// Observers receive Created, Disposed, Retained and Released events. The
// dispatcher uses one to log lifecycle traffic at debug level. Subscribe
// returns the function that removes the observer again.
//
// Create fails with errors.ErrClosed once the registry is closed.
package handle
