// Package runtime provides the high-level API: boot a guest VM in wazero and
// call into it.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, runtime.WithAssemblies(asm))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	out, err := rt.Invoke(ctx, "Test", "JoinStrings", "foo", "bar")
//	fmt.Println(out) // "foobar"
//
// # Asynchronous Calls
//
// InvokeAsync returns a Future. Await drives the runtime's event loop on the
// calling goroutine until the guest signals completion:
//
//	f, err := rt.InvokeAsync(ctx, "Test", "JoinStringsAsync", "a", "b")
//	out, err := f.Await(ctx)
//
// There is no cancellation. When ctx ends Await returns ctx.Err() and the
// call stays pending.
//
// # Host Functions
//
// Functions the guest may call are registered by name:
//
//	rt.RegisterFunction("add", dispatch.Func2(
//	    func(ctx context.Context, a, b float64) (float64, error) {
//	        return a + b, nil
//	    }))
//
// Host objects are passed to the guest as *dispatch.HostObject values. The
// guest sees an opaque handle and calls the object's methods through it.
//
// # Values
//
// All numeric kinds arrive as float64. Strings and codec.Char arrive as
// string, time.Time stays an absolute instant, guest objects arrive as
// *dispatch.ObjectRef and byte slices are relayed through the byte
// transfer channel.
package runtime
