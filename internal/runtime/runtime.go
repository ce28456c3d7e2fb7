package runtime

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/rzbill/eventpump/internal/config"
	"github.com/rzbill/eventpump/internal/eventconsumer"
	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/events"
	"github.com/rzbill/eventpump/internal/metrics"
	"github.com/rzbill/eventpump/internal/projections"
	"github.com/rzbill/eventpump/internal/snapshot"
	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
	"github.com/rzbill/eventpump/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config config.Config
	Logger log.Logger
	// Snapshots overrides the store selected by Config.Snapshots.
	Snapshots snapshot.Store
}

// Runtime wires storage, the event log, snapshot persistence and the
// consumer manager for a single-node instance.
type Runtime struct {
	config    config.Config
	logger    log.Logger
	db        *pebblestore.DB
	log       *eventlog.Log
	snapshots snapshot.Store
	closeSnap func() error
	formatter *events.Formatter
	manager   *eventconsumer.Manager
}

// Open opens the Pebble store under the configured data dir and builds
// every component on top of it. Consumers are not registered yet.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	fsync, _ := cfg.FsyncMode()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       config.StoreDir(cfg.DataDir),
		Fsync:         fsync,
		FsyncInterval: cfg.FsyncInterval(),
		Metrics:       metrics.StorageHook{},
	})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{config: cfg, logger: opts.Logger, db: db, closeSnap: func() error { return nil }}

	rt.log, err = eventlog.Open(db, eventlog.Options{Logger: opts.Logger})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt.snapshots = opts.Snapshots
	if rt.snapshots == nil {
		if err := rt.openSnapshots(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	rt.formatter = events.NewFormatter()
	for _, t := range cfg.EventTypes {
		rt.formatter.RegisterRaw(t)
	}

	rt.manager = eventconsumer.NewManager(eventconsumer.Options{
		Log:          rt.log,
		Formatter:    rt.formatter,
		Store:        rt.snapshots,
		Logger:       opts.Logger,
		QueueSize:    cfg.QueueSize,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval(),
		Retry:        cfg.RetryPolicy(),
		ResetPolicy:  eventconsumer.ResetPolicy(cfg.ResetPolicy),
	})
	return rt, nil
}

func (r *Runtime) openSnapshots(ctx context.Context) error {
	switch r.config.Snapshots.Driver {
	case config.SnapshotPostgres:
		pg, err := snapshot.OpenPostgres(ctx, r.config.Snapshots.DSN, r.config.Snapshots.Table)
		if err != nil {
			return err
		}
		if err := pg.InitSchema(ctx); err != nil {
			return multierr.Append(err, pg.Close())
		}
		r.snapshots, r.closeSnap = pg, pg.Close
	case config.SnapshotMemory:
		r.snapshots = snapshot.NewMemoryStore()
	default:
		r.snapshots = snapshot.NewPebbleStore(r.db)
	}
	r.logger.Info("snapshot store ready", log.Str("driver", r.config.Snapshots.Driver))
	return nil
}

// RegisterConsumers activates one actor per configured consumer. Consumers
// marked autoStart that have never run are started.
func (r *Runtime) RegisterConsumers(ctx context.Context) error {
	autoStart := map[string]bool{}
	for _, c := range r.config.Consumers {
		autoStart[c.Name] = c.AutoStart
	}
	for _, def := range r.config.Definitions() {
		c, err := projections.New(r.db, def, r.logger)
		if err != nil {
			return err
		}
		a, err := r.manager.Register(ctx, c)
		if err != nil {
			return err
		}
		info := a.Status()
		if autoStart[def.Name] && info.Status == eventconsumer.StatusStopped && info.Position == "" {
			if err := a.Start().Wait(ctx); err != nil {
				return fmt.Errorf("auto-start %s: %w", def.Name, err)
			}
		}
	}
	return nil
}

// Publish appends events to stream and counts them.
func (r *Runtime) Publish(ctx context.Context, stream string, expectedVersion int64, evs []eventlog.EventData) ([]eventlog.StoredEvent, error) {
	stored, err := r.log.Append(ctx, stream, expectedVersion, evs)
	if err != nil {
		return nil, err
	}
	metrics.EventsAppendedTotal.Add(float64(len(stored)))
	return stored, nil
}

// CheckHealth verifies the store is open and readable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Close stops every actor, then releases the snapshot store, the log and
// the database in that order.
func (r *Runtime) Close(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	err := r.manager.Close(ctx)
	err = multierr.Append(err, r.closeSnap())
	err = multierr.Append(err, r.log.Close())
	err = multierr.Append(err, r.db.Close())
	r.db = nil
	return err
}

func (r *Runtime) DB() *pebblestore.DB             { return r.db }
func (r *Runtime) Log() *eventlog.Log              { return r.log }
func (r *Runtime) Snapshots() snapshot.Store       { return r.snapshots }
func (r *Runtime) Formatter() *events.Formatter    { return r.formatter }
func (r *Runtime) Manager() *eventconsumer.Manager { return r.manager }
func (r *Runtime) Config() config.Config           { return r.config }
