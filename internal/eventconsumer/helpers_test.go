package eventconsumer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/events"
	"github.com/rzbill/eventpump/internal/snapshot"
	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
	"github.com/rzbill/eventpump/internal/subscription"
)

type testConsumer struct {
	name   string
	filter string

	mu       sync.Mutex
	handled  []string
	clears   int
	failAt   string
	panicAt  string
	clearErr error

	inFlight    atomic.Int32
	overlapping atomic.Bool
}

func newTestConsumer(name string) *testConsumer {
	return &testConsumer{name: name, filter: "^orders-"}
}

func (c *testConsumer) Name() string         { return c.name }
func (c *testConsumer) EventsFilter() string { return c.filter }

func (c *testConsumer) On(_ context.Context, env events.Envelope) error {
	if c.inFlight.Add(1) > 1 {
		c.overlapping.Store(true)
	}
	defer c.inFlight.Add(-1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if env.Headers.Position == c.failAt {
		return errors.New("boom at " + c.failAt)
	}
	if env.Headers.Position == c.panicAt {
		panic("handler panic")
	}
	c.handled = append(c.handled, env.Headers.Position)
	return nil
}

func (c *testConsumer) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clearErr != nil {
		return c.clearErr
	}
	c.clears++
	c.handled = nil
	return nil
}

func (c *testConsumer) setFailAt(pos string) {
	c.mu.Lock()
	c.failAt = pos
	c.mu.Unlock()
}

func (c *testConsumer) positions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.handled...)
}

func (c *testConsumer) clearCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

type testEnv struct {
	log   *eventlog.Log
	store *snapshot.MemoryStore
	opts  Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	l, err := eventlog.Open(db, eventlog.Options{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() {
		_ = l.Close()
		_ = db.Close()
	})
	f := events.NewFormatter()
	f.RegisterRaw("E")
	store := snapshot.NewMemoryStore()
	return &testEnv{
		log:   l,
		store: store,
		opts: Options{
			Log:          l,
			Formatter:    f,
			Store:        store,
			PollInterval: 10 * time.Millisecond,
			Retry:        subscription.RetryPolicy{Type: subscription.BackoffFixed, Base: time.Millisecond},
		},
	}
}

func (e *testEnv) append(t *testing.T, stream, typ string, n int) {
	t.Helper()
	data := make([]eventlog.EventData, n)
	for i := range data {
		data[i] = eventlog.EventData{Type: typ, Payload: []byte(`{}`)}
	}
	if _, err := e.log.Append(context.Background(), stream, eventlog.AnyVersion, data); err != nil {
		t.Fatalf("append: %v", err)
	}
}

// newActor activates and binds c; the actor is closed on cleanup.
func (e *testEnv) newActor(t *testing.T, c Consumer) *Actor {
	t.Helper()
	a := NewActor(e.opts)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	ctx := context.Background()
	if err := a.Activate(ctx, c.Name()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := a.Setup(c).Wait(ctx); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return a
}

func (e *testEnv) snapshot(t *testing.T, key string) State {
	t.Helper()
	st, ok, err := snapshot.NewPersistence[State](e.store, key).Read(context.Background())
	if err != nil || !ok {
		t.Fatalf("read snapshot %s: ok=%v err=%v", key, ok, err)
	}
	return st
}

func waitStatus(t *testing.T, a *Actor, cond func(Info) bool) Info {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		info := a.Status()
		if cond(info) {
			return info
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last status %+v", info)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func atPosition(pos string) func(Info) bool {
	return func(i Info) bool { return i.Position == pos }
}

func seqStrings(from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fakeSub is a subscription driven by hand from tests.
type fakeSub struct {
	gen     uint64
	stopErr error
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func (s *fakeSub) Generation() uint64    { return s.gen }
func (s *fakeSub) Done() <-chan struct{} { return s.done }
func (s *fakeSub) Stop() error {
	s.stopped.Store(true)
	s.once.Do(func() { close(s.done) })
	return s.stopErr
}

// subRecorder captures subscriptions opened by an actor.
type subRecorder struct {
	mu       sync.Mutex
	subs     []*fakeSub
	opts     []subscription.Options
	listener subscription.Listener
	stopErr  error
	openErr  error
}

func (r *subRecorder) subscribe(o subscription.Options, l subscription.Listener) (subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	s := &fakeSub{gen: o.Generation, stopErr: r.stopErr, done: make(chan struct{})}
	r.subs = append(r.subs, s)
	r.opts = append(r.opts, o)
	r.listener = l
	return s, nil
}

func (r *subRecorder) last() (*fakeSub, subscription.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[len(r.subs)-1], r.listener
}

func storedEvent(seq uint64, typ string) eventlog.StoredEvent {
	return eventlog.StoredEvent{
		Stream:   "orders-1",
		Position: eventlog.TokenFromSeq(seq),
		Data:     eventlog.EventData{EventID: "evt-" + strconv.FormatUint(seq, 10), Type: typ, Payload: []byte(`{}`)},
	}
}
