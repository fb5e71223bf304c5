// Package wasminterop bridges a managed virtual machine running inside a
// WebAssembly linear memory with the Go host that embeds it.
//
// The two sides share nothing but the byte-addressable heap. Calls cross the
// boundary through a small protocol: named calls with correlation ids,
// string-encoded faults, opaque integer handles and a single-slot byte relay.
//
// # Architecture Overview
//
//	wasminterop/         Root package with core Memory and Allocator interfaces
//	├── runtime/         High-level API: boot a guest, Invoke / InvokeAsync
//	├── dispatch/        Call dispatcher, pending calls, wire entry points
//	├── heap/            Bounds-checked heap reads, heap lock, string cache
//	├── handle/          Per-side handle registries (arenas keyed by id)
//	├── transfer/        Single-slot byte transfer channel
//	├── fault/           Cross-boundary error encoding
//	├── codec/           Argument payload encoding and the interop type mapping
//	├── vm/              Managed guest runtime: assemblies, instances, allocator
//	├── config/          TOML configuration, validation and schema
//	└── errors/          Structured error taxonomy
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.WithAssemblies(asm))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	out, err := rt.Invoke(ctx, "Test", "JoinStrings", "foo", "bar")
//	fmt.Println(out) // "foobar"
//
// # Threading
//
// The host side is cooperative. Asynchronous completions are posted to the
// dispatcher's loop and run while a caller awaits a Future. A Runtime must
// be driven from one goroutine at a time.
package wasminterop
