package eventlog

import (
	"context"
	"testing"
)

func seedLog(t *testing.T) (*Log, []StoredEvent) {
	t.Helper()
	l := newTestLog(t)
	ctx := context.Background()
	var all []StoredEvent
	for _, s := range []string{"orders-1", "users-1", "orders-2", "orders-1"} {
		evs, err := l.Append(ctx, s, AnyVersion, events("E"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		all = append(all, evs...)
	}
	return l, all
}

func TestReadForward(t *testing.T) {
	l, seeded := seedLog(t)
	items, err := l.Read(ReadOptions{Limit: 3})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("want 3 items, got %d", len(items))
	}
	if items[0].Position != seeded[0].Position || items[2].Position != seeded[2].Position {
		t.Fatalf("unexpected positions")
	}
}

func TestReadAfterIsExclusive(t *testing.T) {
	l, seeded := seedLog(t)
	items, err := l.Read(ReadOptions{After: seeded[1].Position})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 2 || items[0].Position != seeded[2].Position {
		t.Fatalf("expected read to start after %v, got %+v", seeded[1].Position, items)
	}
}

func TestReadStream(t *testing.T) {
	l, seeded := seedLog(t)
	items, err := l.ReadStream("orders-1", 1, 0)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 orders-1 events, got %d", len(items))
	}
	if items[1].Position != seeded[3].Position || items[1].StreamVersion != 2 {
		t.Fatalf("unexpected second event %+v", items[1])
	}
	if items, _ := l.ReadStream("orders-1", 2, 0); len(items) != 1 {
		t.Fatalf("fromVersion should be inclusive")
	}
}

func TestGetMissing(t *testing.T) {
	l, _ := seedLog(t)
	if _, err := l.Get(TokenFromSeq(99)); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
