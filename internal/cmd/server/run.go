package serverrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/eventpump/internal/config"
	"github.com/rzbill/eventpump/internal/runtime"
	grpcserver "github.com/rzbill/eventpump/internal/server/grpc"
	httpserver "github.com/rzbill/eventpump/internal/server/http"
	"github.com/rzbill/eventpump/pkg/log"
)

// closeTimeout bounds how long consumers get to finish in-flight work on
// shutdown.
const closeTimeout = 10 * time.Second

type Options struct {
	Config config.Config
	// Logger overrides the logger built from Config.Log.
	Logger log.Logger
}

// buildLogger applies cfg, falling back to text at the parsed (or info)
// level when the config is unusable.
func buildLogger(cfg log.Config) log.Logger {
	l, err := log.ApplyConfig(&cfg)
	if err == nil {
		return l
	}
	lvl, perr := log.ParseLevel(cfg.Level)
	if perr != nil {
		lvl = log.InfoLevel
	}
	return log.NewLogger(log.WithLevel(lvl), log.WithFormatter(&log.TextFormatter{}), log.WithOutput(log.NewConsoleOutput()))
}

// Run opens the runtime, registers configured consumers, serves gRPC health
// and the HTTP ops API, and blocks until ctx is cancelled or a server
// fails. Consumers are closed before the store.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = buildLogger(cfg.Log)
		log.RedirectStdLog(logger)
	}

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := rt.Close(cctx); err != nil {
			logger.Error("runtime close failed", log.Err(err))
		}
	}()

	if err := rt.RegisterConsumers(sctx); err != nil {
		return err
	}

	logger.Info("Starting eventpump server",
		log.Str("data_dir", cfg.DataDir),
		log.Str("grpc", cfg.GRPCAddr),
		log.Str("http", cfg.HTTPAddr),
		log.Str("snapshots", cfg.Snapshots.Driver),
		log.Int("consumers", len(cfg.Consumers)),
		log.Str("level", cfg.Log.Level),
		log.Str("format", cfg.Log.Format),
	)

	gsrv := grpcserver.New(rt, logger)
	hsrv := httpserver.New(rt, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return gsrv.ListenAndServe(gctx, cfg.GRPCAddr) })
	g.Go(func() error { return hsrv.ListenAndServe(gctx, cfg.HTTPAddr) })
	err = g.Wait()
	gsrv.Close()
	hsrv.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("eventpump server stopped")
	return nil
}
