// Package config loads eventpump configuration from a JSON or YAML file,
// overlays EVENTPUMP_* environment variables and validates the result
// before the runtime is built from it.
//
// Example:
//
//	cfg, err := config.Load("/etc/eventpump.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close(ctx)
package config
