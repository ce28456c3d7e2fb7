// Package grpcserver serves the standard gRPC health protocol for an
// eventpump node. The overall status tracks the store; every consumer is
// published as service "consumer/<name>", SERVING while Started.
//
// Example:
//
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50061")
package grpcserver
