// Package heap reads and writes managed objects in the guest's linear memory.
//
// All cross-boundary pointers are offsets into one flat byte buffer. The
// Accessor validates every read against the current memory size and reports
// InvalidHeapAddress instead of faulting.
//
// # Object layout
//
//	string:  [header 8][length i32][UTF-16LE code units]
//	byte[]:  [header 8][bounds 4][length i32][data]
//
// # Heap lock
//
// Decoding arguments for one call happens under a Lock. Strings decoded
// through the lock are cached by address; the cache is dropped on Release.
// Only one lock may be held at a time, and unlocked decodes or allocations
// while it is held fail with ReentrantHeapAccess.
//
//	lock, err := acc.Lock()
//	if err != nil {
//		return err
//	}
//	name, err := lock.ReadObject(callInfo, 0)
//	lock.Release()
package heap
