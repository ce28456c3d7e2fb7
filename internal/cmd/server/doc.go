// Package serverrun exposes the Run entrypoint used by `eventpump server
// start`: it builds the runtime from a config, registers consumers, serves
// gRPC health and the HTTP ops API, and shuts everything down in order.
//
// Example:
//
//	cfg, _ := config.Load("/etc/eventpump.yaml")
//	config.FromEnv(&cfg)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
