package eventconsumer

import (
	"context"
	"errors"
	"testing"
)

func TestManagerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	m := NewManager(env.opts)
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Close(ctx) })

	stats := newTestConsumer("stats")
	audit := newTestConsumer("audit")
	for _, c := range []Consumer{stats, audit} {
		if _, err := m.Register(ctx, c); err != nil {
			t.Fatalf("register %s: %v", c.Name(), err)
		}
	}
	if _, err := m.Register(ctx, newTestConsumer("stats")); !errors.Is(err, ErrDuplicateConsumer) {
		t.Fatalf("expected ErrDuplicateConsumer, got %v", err)
	}

	f, err := m.Start("stats")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("start wait: %v", err)
	}
	env.append(t, "orders-1", "E", 2)

	a, _ := m.Get("stats")
	waitStatus(t, a, atPosition("2"))

	infos := m.Statuses()
	if len(infos) != 2 || infos[0].Name != "audit" || infos[1].Name != "stats" {
		t.Fatalf("unexpected statuses %+v", infos)
	}
	if infos[0].Status != StatusStopped || infos[1].Status != StatusStarted {
		t.Fatalf("unexpected status values %+v", infos)
	}

	if _, err := m.Start("missing"); !errors.Is(err, ErrUnknownConsumer) {
		t.Fatalf("expected ErrUnknownConsumer, got %v", err)
	}
	if _, err := m.Status("missing"); !errors.Is(err, ErrUnknownConsumer) {
		t.Fatalf("expected ErrUnknownConsumer, got %v", err)
	}

	f, _ = m.Reset("stats")
	_ = f.Wait(ctx)
	if stats.clearCount() != 1 {
		t.Fatalf("reset did not reach the consumer")
	}
	f, _ = m.Stop("stats")
	_ = f.Wait(ctx)
	if info, _ := m.Status("stats"); info.Status != StatusStopped {
		t.Fatalf("expected stopped, got %+v", info)
	}

	if err := m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(m.Statuses()) != 0 {
		t.Fatalf("close should forget actors")
	}
}

func TestManagerRegisterResumesFromSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.append(t, "orders-1", "E", 3)

	m := NewManager(env.opts)
	c := newTestConsumer("durable")
	a, err := m.Register(ctx, c)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = a.Start().Wait(ctx)
	waitStatus(t, a, atPosition("3"))
	if err := m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	env.append(t, "orders-1", "E", 1)
	m2 := NewManager(env.opts)
	t.Cleanup(func() { _ = m2.Close(ctx) })
	c2 := newTestConsumer("durable")
	a2, err := m2.Register(ctx, c2)
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	waitStatus(t, a2, atPosition("4"))
	if got := c2.positions(); !equalStrings(got, []string{"4"}) {
		t.Fatalf("expected only the new event after restart, got %v", got)
	}
}
