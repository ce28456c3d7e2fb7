package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the directory holding the event log and snapshots
// when none is configured. XDG_DATA_HOME wins, then the platform's usual
// application data location, then ~/.eventpump.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "eventpump")
	}
	candidates := []struct{ parent, dir string }{
		{"/var/lib", "/var/lib/eventpump"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "eventpump")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "eventpump")},
	}
	for _, c := range candidates {
		if isDir(c.parent) {
			return c.dir
		}
	}
	return filepath.Join(home, ".eventpump")
}

// StoreDir is the Pebble directory below a data dir.
func StoreDir(dataDir string) string {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return filepath.Join(dataDir, "store")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
