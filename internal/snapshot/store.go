// Package snapshot persists consumer state snapshots.
//
// A Store is a durable key/value map: Write must not return before the value
// is durable. Persistence[T] adds JSON encoding for one key.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rzbill/eventpump/internal/metrics"
)

// Store is durable key/value persistence for snapshots.
type Store interface {
	// Read returns the value for key; ok is false when there is none.
	Read(ctx context.Context, key string) (value []byte, ok bool, err error)
	Write(ctx context.Context, key string, value []byte) error
	// List returns every stored snapshot keyed by its key.
	List(ctx context.Context) (map[string][]byte, error)
}

// Driver names a Store implementation for metrics.
type Driver interface {
	Driver() string
}

func driverOf(s Store) string {
	if d, ok := s.(Driver); ok {
		return d.Driver()
	}
	return "unknown"
}

// Persistence reads and writes one JSON-encoded snapshot.
type Persistence[T any] struct {
	store  Store
	key    string
	driver string
}

func NewPersistence[T any](store Store, key string) *Persistence[T] {
	return &Persistence[T]{store: store, key: key, driver: driverOf(store)}
}

func (p *Persistence[T]) Key() string { return p.key }

// Read decodes the snapshot. ok is false and v is the zero value when none exists.
func (p *Persistence[T]) Read(ctx context.Context) (v T, ok bool, err error) {
	b, ok, err := p.store.Read(ctx, p.key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, fmt.Errorf("snapshot %s: decode: %w", p.key, err)
	}
	return v, true, nil
}

// Write encodes and stores v.
func (p *Persistence[T]) Write(ctx context.Context, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot %s: encode: %w", p.key, err)
	}
	start := time.Now()
	err = p.store.Write(ctx, p.key, b)
	metrics.SnapshotWriteSeconds.WithLabelValues(p.driver).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("snapshot %s: write: %w", p.key, err)
	}
	return nil
}
