// Package runtime wires a single eventpump node: the Pebble store, the
// event log, the snapshot store, the event type registry and the consumer
// manager. Servers and CLI commands all go through a Runtime.
//
// Example:
//
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close(ctx)
//	if err := rt.RegisterConsumers(ctx); err != nil {
//	    return err
//	}
//	_, _ = rt.Publish(ctx, "orders-1", eventlog.AnyVersion, evs)
package runtime
