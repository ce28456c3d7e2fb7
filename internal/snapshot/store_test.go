package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
)

func newPebbleStore(t *testing.T) *PebbleStore {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPebbleStore(db)
}

// storeContract exercises behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	if _, ok, err := s.Read(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.Write(ctx, "consumer-a", []byte("v1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, "consumer-a", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Write(ctx, "consumer-b", []byte("b")); err != nil {
		t.Fatalf("write b: %v", err)
	}
	v, ok, err := s.Read(ctx, "consumer-a")
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("read: %q ok=%v err=%v", v, ok, err)
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || string(all["consumer-b"]) != "b" {
		t.Fatalf("unexpected list %v", all)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	storeContract(t, m)
	if m.Writes() != 3 {
		t.Fatalf("writes = %d, want 3", m.Writes())
	}
}

func TestPebbleStore(t *testing.T) {
	storeContract(t, newPebbleStore(t))
}

func TestPebbleStoreHonoursContext(t *testing.T) {
	s := newPebbleStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Write(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type checkpoint struct {
	Position string    `json:"position"`
	At       time.Time `json:"at"`
}

func TestPersistenceRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := NewPersistence[checkpoint](store, "stats")

	if _, ok, err := p.Read(ctx); ok || err != nil {
		t.Fatalf("expected no snapshot, got ok=%v err=%v", ok, err)
	}
	want := checkpoint{Position: "42", At: time.Unix(10, 0).UTC()}
	if err := p.Write(ctx, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok, err := p.Read(ctx)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if got.Position != want.Position || !got.At.Equal(want.At) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestPersistenceDecodeError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Write(ctx, "stats", []byte("{not json"))
	if _, _, err := NewPersistence[checkpoint](store, "stats").Read(ctx); err == nil {
		t.Fatalf("expected decode error")
	}
}
