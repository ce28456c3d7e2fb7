package client

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rzbill/eventpump/internal/cmd/client/transports"
	"github.com/rzbill/eventpump/internal/config"
	"github.com/rzbill/eventpump/internal/runtime"
	"github.com/rzbill/eventpump/pkg/log"
)

// flagString reads a local or inherited string flag; missing flags read as "".
func flagString(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

// LoadConfig resolves --config (or $EVENTPUMP_CONFIG), overlays the
// environment and --data-dir, then validates.
func LoadConfig(cmd *cobra.Command) (config.Config, error) {
	path := flagString(cmd, "config")
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	config.FromEnv(&cfg)
	if dir := flagString(cmd, "data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serverURL(cmd *cobra.Command) string {
	if v := flagString(cmd, "server"); v != "" {
		return v
	}
	return os.Getenv(config.EnvPrefix + "SERVER")
}

// withRuntime opens the local data dir for the duration of fn. CLI logs go
// to the console at warn level unless the config asks for more.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime.Runtime) error) error {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Log.Level == "" || cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	logger, err := log.ApplyConfig(&cfg.Log)
	if err != nil {
		return err
	}
	log.RedirectStdLog(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	err = fn(ctx, rt)
	if cerr := rt.Close(context.WithoutCancel(ctx)); err == nil {
		err = cerr
	}
	return err
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withStreams runs fn against the server named by --server, or against the
// local data dir when none is set.
func withStreams(cmd *cobra.Command, fn func(ctx context.Context, t transports.StreamsTransport) error) error {
	if base := serverURL(cmd); base != "" {
		return fn(cmdContext(cmd), transports.NewHTTPTransport(base, nil))
	}
	return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
		return fn(ctx, transports.NewLocalTransport(rt))
	})
}
