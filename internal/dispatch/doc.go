// Package dispatch provides a single-worker serial execution context.
//
// Work submitted to a Dispatcher runs one item at a time, in submission
// order, on one goroutine owned by the Dispatcher. Callers get a Future that
// completes when their item finishes.
//
//	d := dispatch.New(dispatch.Options{QueueSize: 64})
//	f, _ := d.Submit(ctx, func(ctx context.Context) error { return nil })
//	_ = f.Wait(ctx)
//	_ = d.Shutdown(ctx)
//
// Work must not call Submit on its own Dispatcher and wait for the result, nor
// call Shutdown: the worker would wait on itself.
package dispatch
