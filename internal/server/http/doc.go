// Package httpserver hosts the HTTP ops surface of an eventpump node:
// /v1/healthz, consumer statuses and start/stop/reset under /v1/consumers, stream
// publish/read/tail under /v1/streams and Prometheus metrics on /metrics.
//
// Example:
//
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8061")
package httpserver
