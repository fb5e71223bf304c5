package dispatch

import (
	"context"
)

// Future is the awaitable side of an asynchronous call.
type Future struct {
	rec  *CallRecord
	loop *Loop
}

// NewFuture returns a Future over rec whose Await pumps loop.
func NewFuture(rec *CallRecord, loop *Loop) *Future {
	return &Future{rec: rec, loop: loop}
}

// ID returns the call correlation id.
func (f *Future) ID() uint64 {
	return f.rec.ID
}

// Done is closed when the call completes.
func (f *Future) Done() <-chan struct{} {
	return f.rec.Done()
}

// State returns the call's current state.
func (f *Future) State() State {
	return f.rec.State()
}

// Await pumps the loop until the call completes. When ctx is done Await
// returns ctx.Err(); the call itself stays pending and may still complete.
func (f *Future) Await(ctx context.Context) (any, error) {
	for {
		if res, err, ok := f.rec.Outcome(); ok {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.loop.Pump(ctx) {
			continue
		}
		select {
		case <-f.rec.Done():
		case <-f.loop.Wait():
		case <-ctx.Done():
		}
	}
}
