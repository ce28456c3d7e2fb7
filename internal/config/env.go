package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable FromEnv reads.
const EnvPrefix = "EVENTPUMP_"

func getenv(name string) string { return os.Getenv(EnvPrefix + name) }

// FromEnv overlays EVENTPUMP_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := getenv("FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FsyncIntervalMs = n
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := getenv("GRPC_ADDR"); v != "" {
		cfg.GRPCAddr = v
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := getenv("QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueSize = n
		}
	}
	if v := getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalMs = n
		}
	}
	if v := getenv("RETRY_TYPE"); v != "" {
		cfg.Retry.Type = v
	}
	if v := getenv("RETRY_BASE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.BaseMs = n
		}
	}
	if v := getenv("RETRY_CAP_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.CapMs = n
		}
	}
	if v := getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Retry.MaxAttempts = uint32(n)
		}
	}
	if v := getenv("RESET_POLICY"); v != "" {
		cfg.ResetPolicy = v
	}
	if v := getenv("SNAPSHOT_DRIVER"); v != "" {
		cfg.Snapshots.Driver = v
	}
	if v := getenv("SNAPSHOT_DSN"); v != "" {
		cfg.Snapshots.DSN = v
	}
	if v := getenv("SNAPSHOT_TABLE"); v != "" {
		cfg.Snapshots.Table = v
	}
	if v := getenv("EVENT_TYPES"); v != "" {
		cfg.EventTypes = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.EventTypes = append(cfg.EventTypes, p)
			}
		}
	}
}
