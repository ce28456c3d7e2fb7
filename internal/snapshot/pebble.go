package snapshot

import (
	"context"
	"errors"

	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
)

var snapPrefix = []byte("snap/")

func snapKey(key string) []byte {
	k := make([]byte, 0, len(snapPrefix)+len(key))
	k = append(k, snapPrefix...)
	return append(k, key...)
}

// PebbleStore keeps snapshots under snap/{key} in the shared Pebble DB.
// Durability follows the DB's fsync mode.
type PebbleStore struct {
	db *pebblestore.DB
}

func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

func (*PebbleStore) Driver() string { return "pebble" }

func (s *PebbleStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, err := s.db.Get(snapKey(key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *PebbleStore) Write(ctx context.Context, key string, value []byte) error {
	return s.db.Set(ctx, snapKey(key), value)
}

func (s *PebbleStore) List(ctx context.Context) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := map[string][]byte{}
	err := s.db.ScanPrefix(snapPrefix, func(k, v []byte) error {
		out[string(k[len(snapPrefix):])] = append([]byte(nil), v...)
		return nil
	})
	return out, err
}
