package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/rzbill/eventpump/internal/config"
	"github.com/rzbill/eventpump/internal/eventconsumer"
	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/projections"
	"github.com/rzbill/eventpump/internal/snapshot"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.PollIntervalMs = 10
	cfg.EventTypes = []string{"OrderPlaced"}
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if err := rt.CheckHealth(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	if _, ok := rt.Snapshots().(*snapshot.PebbleStore); !ok {
		t.Fatalf("expected pebble snapshots by default, got %T", rt.Snapshots())
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fsync = "sometimes"
	if _, err := Open(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func waitPosition(t *testing.T, a *eventconsumer.Actor, want string) eventconsumer.Info {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		info := a.Status()
		if info.Position == want {
			return info
		}
		if time.Now().After(deadline) {
			t.Fatalf("position %q not reached, last %+v", want, info)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegisterConsumersAutoStartAndPublish(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Snapshots.Driver = config.SnapshotMemory
	cfg.Consumers = []config.Consumer{
		{Name: "stats", Kind: projections.KindStreamStats, AutoStart: true},
		{Name: "audit", Kind: projections.KindEventLog},
	}
	rt, err := Open(ctx, Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close(ctx)
	if err := rt.RegisterConsumers(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	stored, err := rt.Publish(ctx, "orders-1", eventlog.NoStream, []eventlog.EventData{
		{Type: "OrderPlaced", Payload: []byte(`{}`)},
		{Type: "OrderPlaced", Payload: []byte(`{}`)},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	stats, _ := rt.Manager().Get("stats")
	info := waitPosition(t, stats, stored[1].Position.String())
	if info.Status != eventconsumer.StatusStarted {
		t.Fatalf("stats should be started: %+v", info)
	}
	audit, err := rt.Manager().Status("audit")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if audit.Status != eventconsumer.StatusStopped || audit.Position != "" {
		t.Fatalf("audit should stay stopped: %+v", audit)
	}
}

func TestAutoStartSkipsConsumersThatRan(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Consumers = []config.Consumer{{Name: "stats", Kind: projections.KindStreamStats, AutoStart: true}}

	rt, err := Open(ctx, Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := rt.RegisterConsumers(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	stored, err := rt.Publish(ctx, "orders-1", eventlog.AnyVersion, []eventlog.EventData{{Type: "OrderPlaced"}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	a, _ := rt.Manager().Get("stats")
	waitPosition(t, a, stored[0].Position.String())
	if err := a.Stop().Wait(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt, err = Open(ctx, Options{Config: cfg})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close(ctx)
	if err := rt.RegisterConsumers(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	info, _ := rt.Manager().Status("stats")
	if info.Status != eventconsumer.StatusStopped || info.Position != stored[0].Position.String() {
		t.Fatalf("operator stop must survive restart: %+v", info)
	}
}
