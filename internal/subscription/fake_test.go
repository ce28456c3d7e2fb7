package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/eventpump/internal/eventlog"
)

// fakeLog serves a fixed slice of events. Each entry of failures makes one
// Tail call fail after delivering up to failAfter events and then idling for
// failDelay.
type fakeLog struct {
	mu        sync.Mutex
	events    []eventlog.StoredEvent
	failures  []error
	failAfter int
	failDelay time.Duration
	calls     []eventlog.TailOptions
}

func newFakeLog(n int) *fakeLog {
	l := &fakeLog{}
	for i := 1; i <= n; i++ {
		l.events = append(l.events, eventlog.StoredEvent{
			Stream:   "orders-1",
			Position: eventlog.TokenFromSeq(uint64(i)),
			Data:     eventlog.EventData{Type: "E"},
		})
	}
	return l
}

func (l *fakeLog) Tail(ctx context.Context, opts eventlog.TailOptions, fn func(eventlog.StoredEvent) error) error {
	l.mu.Lock()
	l.calls = append(l.calls, opts)
	var fail error
	if len(l.failures) > 0 {
		fail, l.failures = l.failures[0], l.failures[1:]
	}
	evs := append([]eventlog.StoredEvent(nil), l.events...)
	limit := l.failAfter
	delay := l.failDelay
	l.mu.Unlock()

	delivered := 0
	for _, ev := range evs {
		if ev.Position.Seq() <= opts.After.Seq() {
			continue
		}
		if fail != nil && delivered == limit {
			break
		}
		if err := fn(ev); err != nil {
			return err
		}
		delivered++
	}
	if fail != nil {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return fail
	}
	<-ctx.Done()
	return ctx.Err()
}

func (l *fakeLog) tailCalls() []eventlog.TailOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]eventlog.TailOptions(nil), l.calls...)
}

type recorder struct {
	mu     sync.Mutex
	events []eventlog.StoredEvent
	errs   []error
	gens   []uint64
	failOn uint64
	errCh  chan error
}

func newRecorder() *recorder { return &recorder{errCh: make(chan error, 4)} }

func (r *recorder) OnEvent(_ context.Context, sub Subscription, ev eventlog.StoredEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != 0 && ev.Position.Seq() == r.failOn {
		return errors.New("listener refused")
	}
	r.events = append(r.events, ev)
	r.gens = append(r.gens, sub.Generation())
	return nil
}

func (r *recorder) OnError(_ context.Context, _ Subscription, err error) error {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.errCh <- err
	return nil
}

func (r *recorder) positions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Position.Seq()
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, s Subscription) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not finish")
	}
}
