package eventconsumer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/eventpump/internal/dispatch"
	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/snapshot"
)

func TestActorLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	c := newTestConsumer("stats")
	a := env.newActor(t, c)
	ctx := context.Background()

	if st := a.Status(); st.Status != StatusStopped || st.Position != "" || st.Name != "stats" {
		t.Fatalf("unexpected initial status %+v", st)
	}

	if err := a.Start().Wait(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := a.Status(); st.Status != StatusStarted {
		t.Fatalf("expected Started, got %+v", st)
	}

	env.append(t, "orders-1", "E", 3)
	waitStatus(t, a, atPosition("3"))
	if got := env.snapshot(t, "stats"); got.Position != "3" || got.Status != StatusStarted {
		t.Fatalf("persisted state = %+v", got)
	}

	c.setFailAt("4")
	env.append(t, "orders-1", "E", 1)
	failed := waitStatus(t, a, func(i Info) bool { return i.Status == StatusFailed })
	if failed.Position != "3" || !strings.Contains(failed.Error, "boom at 4") || failed.FailedAt.IsZero() {
		t.Fatalf("unexpected failed status %+v", failed)
	}
	if got := env.snapshot(t, "stats"); got.Status != StatusFailed || got.Position != "3" {
		t.Fatalf("failure not persisted: %+v", got)
	}

	// Start on a failed consumer is a no-op.
	if err := a.Start().Wait(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := a.Status(); st.Status != StatusFailed {
		t.Fatalf("start must not leave Failed, got %+v", st)
	}

	c.setFailAt("")
	if err := a.Reset().Wait(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n := c.clearCount(); n != 1 {
		t.Fatalf("clear called %d times, want 1", n)
	}
	waitStatus(t, a, atPosition("4"))
	if st := a.Status(); st.Status != StatusStarted || st.Error != "" {
		t.Fatalf("expected clean Started after reset, got %+v", st)
	}
	if got := c.positions(); !equalStrings(got, seqStrings(1, 4)) {
		t.Fatalf("expected full redelivery after reset, got %v", got)
	}
}

func TestStopStartResumesAfterPersistedPosition(t *testing.T) {
	env := newTestEnv(t)
	c := newTestConsumer("resume")
	a := env.newActor(t, c)
	ctx := context.Background()

	if err := a.Start().Wait(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.append(t, "orders-1", "E", 2)
	waitStatus(t, a, atPosition("2"))

	if err := a.Stop().Wait(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st := a.Status(); st.Status != StatusStopped || st.Position != "2" {
		t.Fatalf("unexpected stopped status %+v", st)
	}
	// Stop on a stopped consumer is a no-op.
	if err := a.Stop().Wait(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	env.append(t, "orders-1", "E", 2)
	time.Sleep(30 * time.Millisecond)
	if got := c.positions(); len(got) != 2 {
		t.Fatalf("stopped consumer handled events: %v", got)
	}

	if err := a.Start().Wait(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitStatus(t, a, atPosition("4"))
	if got := c.positions(); !equalStrings(got, seqStrings(1, 4)) {
		t.Fatalf("expected each event exactly once, got %v", got)
	}
}

func TestStopStartRedeliversFailedEvent(t *testing.T) {
	env := newTestEnv(t)
	c := newTestConsumer("redeliver")
	c.failAt = "2"
	a := env.newActor(t, c)
	ctx := context.Background()

	_ = a.Start().Wait(ctx)
	env.append(t, "orders-1", "E", 3)
	waitStatus(t, a, func(i Info) bool { return i.Status == StatusFailed })

	c.setFailAt("")
	_ = a.Stop().Wait(ctx)
	_ = a.Start().Wait(ctx)
	waitStatus(t, a, atPosition("3"))
	if got := c.positions(); !equalStrings(got, seqStrings(1, 3)) {
		t.Fatalf("expected failed event to be redelivered, got %v", got)
	}
}

func TestUnknownEventTypeAdvancesPosition(t *testing.T) {
	env := newTestEnv(t)
	c := newTestConsumer("legacy")
	a := env.newActor(t, c)
	_ = a.Start().Wait(context.Background())

	env.append(t, "orders-1", "LegacyEvent", 1)
	env.append(t, "orders-1", "E", 1)
	waitStatus(t, a, atPosition("2"))
	if st := a.Status(); st.Status != StatusStarted {
		t.Fatalf("unknown type must not fail the consumer: %+v", st)
	}
	if got := c.positions(); !equalStrings(got, []string{"2"}) {
		t.Fatalf("consumer should only see the known event, got %v", got)
	}
}

func TestFilterSkipsOtherStreams(t *testing.T) {
	env := newTestEnv(t)
	c := newTestConsumer("orders-only")
	a := env.newActor(t, c)
	_ = a.Start().Wait(context.Background())

	env.append(t, "users-1", "E", 2)
	env.append(t, "orders-9", "E", 1)
	waitStatus(t, a, atPosition("3"))
	if got := c.positions(); !equalStrings(got, []string{"3"}) {
		t.Fatalf("unexpected handled events %v", got)
	}
}

func TestRecoveryResumesStartedConsumer(t *testing.T) {
	env := newTestEnv(t)
	env.append(t, "orders-1", "E", 4)
	ctx := context.Background()
	if err := snapshot.NewPersistence[State](env.store, "recovered").Write(ctx, DefaultState().Started().Handled("2")); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	c := newTestConsumer("recovered")
	a := env.newActor(t, c)
	waitStatus(t, a, atPosition("4"))
	if got := c.positions(); !equalStrings(got, []string{"3", "4"}) {
		t.Fatalf("expected resume strictly after 2, got %v", got)
	}
}

func TestRecoveryLeavesFailedConsumerIdle(t *testing.T) {
	env := newTestEnv(t)
	env.append(t, "orders-1", "E", 2)
	ctx := context.Background()
	failed := DefaultState().Started().Handled("1").Failed(errors.New("earlier"), time.Now())
	_ = snapshot.NewPersistence[State](env.store, "idle").Write(ctx, failed)

	c := newTestConsumer("idle")
	a := env.newActor(t, c)
	time.Sleep(30 * time.Millisecond)
	if st := a.Status(); st.Status != StatusFailed || st.Position != "1" {
		t.Fatalf("unexpected status %+v", st)
	}
	if got := c.positions(); len(got) != 0 {
		t.Fatalf("failed consumer must not process events, got %v", got)
	}
}

func TestResetPolicyStop(t *testing.T) {
	env := newTestEnv(t)
	env.opts.ResetPolicy = ResetStop
	c := newTestConsumer("reset-stop")
	a := env.newActor(t, c)
	ctx := context.Background()

	_ = a.Start().Wait(ctx)
	env.append(t, "orders-1", "E", 2)
	waitStatus(t, a, atPosition("2"))

	if err := a.Reset().Wait(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st := a.Status(); st.Status != StatusStopped || st.Position != "" {
		t.Fatalf("expected Stopped with no position, got %+v", st)
	}
	if c.clearCount() != 1 {
		t.Fatalf("expected one clear")
	}
}

func TestResetClearFailure(t *testing.T) {
	env := newTestEnv(t)
	c := newTestConsumer("clear-fails")
	c.clearErr = errors.New("cannot drop projection")
	a := env.newActor(t, c)

	if err := a.Reset().Wait(context.Background()); err != nil {
		t.Fatalf("reset future should only carry snapshot errors: %v", err)
	}
	st := a.Status()
	if st.Status != StatusFailed || !strings.Contains(st.Error, "cannot drop projection") {
		t.Fatalf("expected Failed, got %+v", st)
	}
}

func TestHandlerPanicFailsConsumer(t *testing.T) {
	env := newTestEnv(t)
	c := newTestConsumer("panics")
	c.panicAt = "1"
	a := env.newActor(t, c)
	_ = a.Start().Wait(context.Background())
	env.append(t, "orders-1", "E", 1)
	st := waitStatus(t, a, func(i Info) bool { return i.Status == StatusFailed })
	if !strings.Contains(st.Error, "handler panic") || st.Position != "" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestStaleGenerationIsDropped(t *testing.T) {
	env := newTestEnv(t)
	rec := &subRecorder{}
	env.opts.Subscribe = rec.subscribe
	c := newTestConsumer("stale")
	a := env.newActor(t, c)
	ctx := context.Background()

	_ = a.Start().Wait(ctx)
	old, _ := rec.last()
	_ = a.Stop().Wait(ctx)
	_ = a.Start().Wait(ctx)
	cur, l := rec.last()
	if cur.gen == old.gen {
		t.Fatalf("expected a new generation per subscription")
	}
	if !old.stopped.Load() {
		t.Fatalf("replaced subscription was not stopped")
	}

	if err := l.OnEvent(ctx, old, storedEvent(5, "E")); err != nil {
		t.Fatalf("stale event: %v", err)
	}
	_ = l.OnError(ctx, old, errors.New("stale failure"))
	if err := l.OnEvent(ctx, cur, storedEvent(6, "E")); err != nil {
		t.Fatalf("current event: %v", err)
	}

	st := a.Status()
	if st.Position != "6" || st.Status != StatusStarted {
		t.Fatalf("stale callbacks must not mutate state, got %+v", st)
	}
	if got := c.positions(); !equalStrings(got, []string{"6"}) {
		t.Fatalf("unexpected handled events %v", got)
	}

	_ = l.OnError(ctx, cur, errors.New("terminal"))
	st = waitStatus(t, a, func(i Info) bool { return i.Status == StatusFailed })
	if st.Error != "terminal" || !cur.stopped.Load() {
		t.Fatalf("expected terminal error to fail and unsubscribe, got %+v", st)
	}
}

func TestSubscriptionOptionsFromConsumer(t *testing.T) {
	env := newTestEnv(t)
	rec := &subRecorder{}
	env.opts.Subscribe = rec.subscribe
	a := env.newActor(t, &exprConsumer{testConsumer: newTestConsumer("expr")})
	_ = a.Start().Wait(context.Background())

	rec.mu.Lock()
	o := rec.opts[0]
	rec.mu.Unlock()
	if o.Filter != "^orders-" || o.Expr != `type == "E"` || o.Name != "expr" || o.From != "" {
		t.Fatalf("unexpected subscription options %+v", o)
	}
}

type exprConsumer struct{ *testConsumer }

func (exprConsumer) EventsExpr() string { return `type == "E"` }

func TestUnsubscribeFailureIsCombined(t *testing.T) {
	env := newTestEnv(t)
	rec := &subRecorder{stopErr: errors.New("stop failed")}
	env.opts.Subscribe = rec.subscribe
	c := newTestConsumer("combined")
	c.failAt = "1"
	a := env.newActor(t, c)
	ctx := context.Background()

	_ = a.Start().Wait(ctx)
	_, l := rec.last()
	cur, _ := rec.last()
	_ = l.OnEvent(ctx, cur, storedEvent(1, "E"))

	st := a.Status()
	if st.Status != StatusFailed || !strings.Contains(st.Error, "boom at 1") || !strings.Contains(st.Error, "stop failed") {
		t.Fatalf("expected both causes in error, got %q", st.Error)
	}
}

func TestSubscribeFailureFailsStart(t *testing.T) {
	env := newTestEnv(t)
	rec := &subRecorder{openErr: errors.New("log offline")}
	env.opts.Subscribe = rec.subscribe
	a := env.newActor(t, newTestConsumer("offline"))

	_ = a.Start().Wait(context.Background())
	if st := a.Status(); st.Status != StatusFailed || st.Error != "log offline" {
		t.Fatalf("unexpected status %+v", st)
	}
}

type failingStore struct {
	*snapshot.MemoryStore
	fail bool
	mu   sync.Mutex
}

func (s *failingStore) Write(ctx context.Context, key string, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Write(ctx, key, v)
}

func TestSnapshotWriteFailureKeepsState(t *testing.T) {
	env := newTestEnv(t)
	store := &failingStore{MemoryStore: snapshot.NewMemoryStore()}
	env.opts.Store = store
	a := env.newActor(t, newTestConsumer("disk"))

	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()
	err := a.Start().Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected snapshot error on the future, got %v", err)
	}
	if st := a.Status(); st.Status != StatusStarted {
		t.Fatalf("in-memory state should be kept, got %+v", st)
	}
}

func TestActivateAndSetupGuards(t *testing.T) {
	env := newTestEnv(t)
	a := NewActor(env.opts)
	defer a.Close(context.Background())
	ctx := context.Background()

	if err := a.Start().Wait(ctx); !errors.Is(err, ErrNotActivated) {
		t.Fatalf("expected ErrNotActivated, got %v", err)
	}
	if err := a.Activate(ctx, "guards"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := a.Activate(ctx, "guards"); !errors.Is(err, ErrAlreadyActivated) {
		t.Fatalf("expected ErrAlreadyActivated, got %v", err)
	}
	if err := a.Start().Wait(ctx); !errors.Is(err, ErrNotSetup) {
		t.Fatalf("expected ErrNotSetup, got %v", err)
	}
	if err := a.Setup(newTestConsumer("guards")).Wait(ctx); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := a.Setup(newTestConsumer("guards")).Wait(ctx); !errors.Is(err, ErrAlreadySetup) {
		t.Fatalf("expected ErrAlreadySetup, got %v", err)
	}
}

func TestCommandsAfterCloseFail(t *testing.T) {
	env := newTestEnv(t)
	a := env.newActor(t, newTestConsumer("closed"))
	_ = a.Start().Wait(context.Background())
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Start().Wait(context.Background()); !errors.Is(err, dispatch.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if st := env.snapshot(t, "closed"); st.Status != StatusStarted {
		t.Fatalf("close must keep the persisted status, got %+v", st)
	}
}

func TestConcurrentCommandsAndDeliveriesSerialize(t *testing.T) {
	env := newTestEnv(t)
	c := newTestConsumer("busy")
	a := env.newActor(t, c)
	ctx := context.Background()

	_ = a.Start().Wait(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			data := []eventlog.EventData{{Type: "E"}, {Type: "E"}, {Type: "E"}, {Type: "E"}, {Type: "E"}}
			if _, err := env.log.Append(ctx, "orders-1", eventlog.AnyVersion, data); err != nil {
				t.Errorf("append: %v", err)
				return
			}
		}
	}()
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = a.Stop().Wait(ctx)
				_ = a.Start().Wait(ctx)
			}
		}()
	}
	wg.Wait()
	_ = a.Start().Wait(ctx)
	waitStatus(t, a, atPosition("100"))

	if c.overlapping.Load() {
		t.Fatalf("consumer handler ran concurrently")
	}
	if got := c.positions(); !equalStrings(got, seqStrings(1, 100)) {
		t.Fatalf("expected every event once and in order, got %d events", len(got))
	}
	if st := env.snapshot(t, "busy"); st.Position != "100" || st.Status != StatusStarted {
		t.Fatalf("unexpected final snapshot %+v", st)
	}
}
