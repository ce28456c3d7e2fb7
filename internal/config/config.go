package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/multierr"
	"sigs.k8s.io/yaml"

	"github.com/rzbill/eventpump/internal/eventconsumer"
	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/projections"
	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
	"github.com/rzbill/eventpump/internal/subscription"
	"github.com/rzbill/eventpump/pkg/log"
)

// Snapshot drivers.
const (
	SnapshotPebble   = "pebble"
	SnapshotPostgres = "postgres"
	SnapshotMemory   = "memory"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir         string     `json:"dataDir"`
	Fsync           string     `json:"fsync"`
	FsyncIntervalMs int        `json:"fsyncIntervalMs"`
	Log             log.Config `json:"log"`
	GRPCAddr        string     `json:"grpcAddr"`
	HTTPAddr        string     `json:"httpAddr"`

	QueueSize      int    `json:"queueSize"`
	BatchSize      int    `json:"batchSize"`
	PollIntervalMs int    `json:"pollIntervalMs"`
	Retry          Retry  `json:"retry"`
	ResetPolicy    string `json:"resetPolicy"`

	Snapshots  Snapshots  `json:"snapshots"`
	EventTypes []string   `json:"eventTypes"`
	Consumers  []Consumer `json:"consumers"`
}

// Retry mirrors subscription.RetryPolicy with millisecond durations.
type Retry struct {
	Type        string  `json:"type"`
	BaseMs      int     `json:"baseMs"`
	CapMs       int     `json:"capMs"`
	Factor      float64 `json:"factor"`
	MaxAttempts uint32  `json:"maxAttempts"`
}

// Snapshots selects where consumer state is persisted.
type Snapshots struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn,omitempty"`
	Table  string `json:"table,omitempty"`
}

// Consumer declares one built-in consumer to run.
type Consumer struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Filter string `json:"filter,omitempty"`
	Expr   string `json:"expr,omitempty"`
	// AutoStart starts the consumer on boot if it has never run.
	AutoStart bool `json:"autoStart,omitempty"`
}

// Default returns built-in defaults.
func Default() Config {
	pol := subscription.DefaultRetryPolicy()
	return Config{
		Fsync:           "always",
		FsyncIntervalMs: 5,
		Log:             log.Config{Level: "info", Format: "text"},
		GRPCAddr:        ":50061",
		HTTPAddr:        ":8061",
		QueueSize:       64,
		BatchSize:       256,
		PollIntervalMs:  500,
		Retry: Retry{
			Type:   string(pol.Type),
			BaseMs: int(pol.Base / time.Millisecond),
			CapMs:  int(pol.Cap / time.Millisecond),
			Factor: pol.Factor,
		},
		ResetPolicy: string(eventconsumer.ResetStart),
		Snapshots:   Snapshots{Driver: SnapshotPebble},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// FsyncMode parses the configured fsync mode.
func (c Config) FsyncMode() (pebblestore.FsyncMode, error) {
	return pebblestore.ParseFsyncMode(c.Fsync)
}

func (c Config) FsyncInterval() time.Duration {
	return time.Duration(c.FsyncIntervalMs) * time.Millisecond
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RetryPolicy converts the retry section, falling back to defaults for
// unset fields.
func (c Config) RetryPolicy() subscription.RetryPolicy {
	pol := subscription.DefaultRetryPolicy()
	if t, ok := subscription.ParseBackoffType(c.Retry.Type); ok {
		pol.Type = t
	}
	if c.Retry.BaseMs > 0 {
		pol.Base = time.Duration(c.Retry.BaseMs) * time.Millisecond
	}
	if c.Retry.CapMs > 0 {
		pol.Cap = time.Duration(c.Retry.CapMs) * time.Millisecond
	}
	if c.Retry.Factor > 0 {
		pol.Factor = c.Retry.Factor
	}
	pol.MaxAttempts = c.Retry.MaxAttempts
	return pol
}

// Definitions returns the consumer section as projection definitions.
func (c Config) Definitions() []projections.Definition {
	out := make([]projections.Definition, 0, len(c.Consumers))
	for _, cc := range c.Consumers {
		out = append(out, projections.Definition{Name: cc.Name, Kind: cc.Kind, Filter: cc.Filter, Expr: cc.Expr})
	}
	return out
}

// Validate reports every problem found in c.
func (c Config) Validate() error {
	var err error
	if _, e := c.FsyncMode(); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := log.ParseLevel(c.Log.Level); e != nil {
		err = multierr.Append(err, e)
	}
	if c.QueueSize < 0 || c.BatchSize < 0 || c.PollIntervalMs < 0 {
		err = multierr.Append(err, errors.New("queueSize, batchSize and pollIntervalMs must not be negative"))
	}
	if c.Retry.Type != "" {
		if _, ok := subscription.ParseBackoffType(c.Retry.Type); !ok {
			err = multierr.Append(err, fmt.Errorf("unknown retry type %q; use exp|exp-jitter|fixed|none", c.Retry.Type))
		}
	}
	switch eventconsumer.ResetPolicy(c.ResetPolicy) {
	case "", eventconsumer.ResetStart, eventconsumer.ResetStop:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown reset policy %q; use start|stop", c.ResetPolicy))
	}
	switch c.Snapshots.Driver {
	case "", SnapshotPebble, SnapshotMemory:
	case SnapshotPostgres:
		if c.Snapshots.DSN == "" {
			err = multierr.Append(err, errors.New("snapshots.dsn is required for the postgres driver"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown snapshot driver %q", c.Snapshots.Driver))
	}
	seen := map[string]bool{}
	for i, cc := range c.Consumers {
		err = multierr.Append(err, validateConsumer(i, cc, seen))
	}
	return err
}

func validateConsumer(i int, cc Consumer, seen map[string]bool) error {
	if cc.Name == "" {
		return fmt.Errorf("consumers[%d]: name is required", i)
	}
	if strings.Contains(cc.Name, "/") {
		return fmt.Errorf("consumer %s: name must not contain '/'", cc.Name)
	}
	if seen[cc.Name] {
		return fmt.Errorf("consumer %s: duplicate name", cc.Name)
	}
	seen[cc.Name] = true

	known := false
	for _, k := range projections.Kinds() {
		known = known || k == cc.Kind
	}
	if !known {
		return fmt.Errorf("consumer %s: unknown kind %q; use %s", cc.Name, cc.Kind, strings.Join(projections.Kinds(), "|"))
	}
	if cc.Filter != "" {
		if _, err := regexp.Compile(cc.Filter); err != nil {
			return fmt.Errorf("consumer %s: filter: %w", cc.Name, err)
		}
	}
	if cc.Expr != "" {
		if err := eventlog.ValidateExpr(cc.Expr); err != nil {
			return fmt.Errorf("consumer %s: expr: %w", cc.Name, err)
		}
	}
	return nil
}
