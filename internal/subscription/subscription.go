package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/pkg/log"
)

// EventLog is the part of the event log a subscription reads from.
type EventLog interface {
	Tail(ctx context.Context, opts eventlog.TailOptions, fn func(eventlog.StoredEvent) error) error
}

// Subscription is one live push session.
type Subscription interface {
	// Generation identifies the session; callbacks carry the session they
	// were issued by so owners can drop stale ones.
	Generation() uint64
	// Stop releases the session. It is idempotent and does not wait for the
	// push goroutine; use Done for that.
	Stop() error
	// Done is closed once no further callbacks will be made.
	Done() <-chan struct{}
}

// Listener receives events and terminal errors from a Subscription.
// Returning an error from OnEvent ends the subscription without OnError.
type Listener interface {
	OnEvent(ctx context.Context, sub Subscription, ev eventlog.StoredEvent) error
	OnError(ctx context.Context, sub Subscription, err error) error
}

// Options configures a subscription.
type Options struct {
	// Name labels logs and metrics.
	Name string
	// Filter is a regular expression over stream names.
	Filter string
	// Expr is an optional CEL predicate over events.
	Expr string
	// From is an exclusive position; "" starts at the beginning of the log.
	From         string
	Generation   uint64
	BatchSize    int
	PollInterval time.Duration
	Logger       log.Logger
}

func (o Options) logger() log.Logger {
	if o.Logger == nil {
		return log.NewNopLogger()
	}
	return o.Logger
}

// Push is a single, non-retrying subscription.
type Push struct {
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Open starts pushing events after opts.From to listener.
func Open(l EventLog, opts Options, listener Listener) (*Push, error) {
	return open(context.Background(), l, opts, listener)
}

func open(parent context.Context, l EventLog, opts Options, listener Listener) (*Push, error) {
	from, err := eventlog.ParseToken(opts.From)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Push{gen: opts.Generation, cancel: cancel, done: make(chan struct{})}
	tail := eventlog.TailOptions{
		Filter:       opts.Filter,
		Expr:         opts.Expr,
		After:        from,
		BatchSize:    opts.BatchSize,
		PollInterval: opts.PollInterval,
	}
	logger := opts.logger()
	go func() {
		defer close(s.done)
		defer cancel()
		var listenerErr error
		err := l.Tail(ctx, tail, func(ev eventlog.StoredEvent) error {
			if err := listener.OnEvent(ctx, s, ev); err != nil {
				listenerErr = err
				return err
			}
			return nil
		})
		if listenerErr != nil {
			logger.Debug("subscription ended by listener", log.Err(listenerErr), log.Uint64("generation", s.gen))
			return
		}
		if ctx.Err() != nil || err == nil {
			return
		}
		_ = listener.OnError(ctx, s, err)
	}()
	return s, nil
}

func (s *Push) Generation() uint64    { return s.gen }
func (s *Push) Done() <-chan struct{} { return s.done }

func (s *Push) Stop() error {
	s.stopOnce.Do(s.cancel)
	return nil
}
