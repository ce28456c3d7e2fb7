package eventconsumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/multierr"

	"github.com/rzbill/eventpump/internal/dispatch"
	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/events"
	"github.com/rzbill/eventpump/internal/metrics"
	"github.com/rzbill/eventpump/internal/snapshot"
	"github.com/rzbill/eventpump/internal/subscription"
	"github.com/rzbill/eventpump/pkg/log"
)

var (
	ErrAlreadyActivated = errors.New("eventconsumer: already activated")
	ErrNotActivated     = errors.New("eventconsumer: not activated")
	ErrAlreadySetup     = errors.New("eventconsumer: consumer already bound")
	ErrNotSetup         = errors.New("eventconsumer: no consumer bound")
)

// ResetPolicy selects the status a consumer ends in after Reset.
type ResetPolicy string

const (
	ResetStart ResetPolicy = "start"
	ResetStop  ResetPolicy = "stop"
)

// SubscribeFunc opens a subscription for an actor.
type SubscribeFunc func(opts subscription.Options, l subscription.Listener) (subscription.Subscription, error)

// Options configures an Actor.
type Options struct {
	Log       subscription.EventLog
	Formatter *events.Formatter
	Store     snapshot.Store
	Logger    log.Logger

	QueueSize    int
	BatchSize    int
	PollInterval time.Duration
	Retry        subscription.RetryPolicy
	ResetPolicy  ResetPolicy

	// Now overrides the clock used for failure timestamps.
	Now func() time.Time
	// Subscribe overrides how subscriptions are opened. By default a
	// retrying subscription over Log is used.
	Subscribe SubscribeFunc
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.Formatter == nil {
		o.Formatter = events.NewFormatter()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.ResetPolicy == "" {
		o.ResetPolicy = ResetStart
	}
	if o.Retry.Type == "" {
		o.Retry = subscription.DefaultRetryPolicy()
	}
	if o.Subscribe == nil {
		el, pol := o.Log, o.Retry
		o.Subscribe = func(so subscription.Options, l subscription.Listener) (subscription.Subscription, error) {
			return subscription.NewRetry(el, so, pol, l)
		}
	}
}

// Actor drives one Consumer from the event log. Every mutation of its state
// and subscription happens in work items on its dispatcher; Status reads a
// copy published after each step.
type Actor struct {
	opts       Options
	dispatcher *dispatch.Dispatcher
	logger     log.Logger

	activated atomic.Bool
	bound     atomic.Bool
	info      atomic.Pointer[Info]

	// owned by the dispatcher worker
	key         string
	persistence *snapshot.Persistence[State]
	state       State
	consumer    Consumer
	sub         subscription.Subscription
	generation  uint64
	retired     []subscription.Subscription
}

func NewActor(opts Options) *Actor {
	opts.defaults()
	a := &Actor{
		opts:   opts,
		logger: opts.Logger.WithComponent("eventconsumer"),
		state:  DefaultState(),
	}
	a.dispatcher = dispatch.New(dispatch.Options{QueueSize: opts.QueueSize, Logger: a.logger})
	return a
}

// Activate loads the snapshot stored under key, or the default state.
func (a *Actor) Activate(ctx context.Context, key string) error {
	if !a.activated.CompareAndSwap(false, true) {
		return ErrAlreadyActivated
	}
	f, err := a.dispatcher.Submit(ctx, func(ctx context.Context) error {
		p := snapshot.NewPersistence[State](a.opts.Store, key)
		st, ok, err := p.Read(ctx)
		if err != nil {
			return err
		}
		if !ok {
			st = DefaultState()
		}
		a.key, a.persistence, a.state = key, p, st
		a.publish()
		a.logger.Debug("consumer activated", log.Str("key", key), log.Str("status", string(st.Status)), log.Str("position", st.Position))
		return nil
	})
	if err == nil {
		err = f.Wait(ctx)
	}
	if err != nil {
		a.activated.Store(false)
	}
	return err
}

// Setup binds consumer. If the restored status is Started the subscription
// resumes at the persisted position.
func (a *Actor) Setup(consumer Consumer) *dispatch.Future {
	if consumer == nil {
		return dispatch.Completed(ErrNotSetup)
	}
	if !a.bound.CompareAndSwap(false, true) {
		return dispatch.Completed(ErrAlreadySetup)
	}
	return a.dispatcher.Dispatch(func(ctx context.Context) error {
		if a.persistence == nil {
			return ErrNotActivated
		}
		a.consumer = consumer
		a.logger = a.logger.With(log.Consumer(consumer.Name()))
		a.publish()
		if a.state.Status != StatusStarted {
			return nil
		}
		return a.doAndUpdateState(ctx, "Setup", newActionID(), func(context.Context) error {
			return a.subscribe(a.state.Position)
		})
	})
}

// Start subscribes at the persisted position if the consumer is stopped.
func (a *Actor) Start() *dispatch.Future {
	return a.dispatcher.Dispatch(func(ctx context.Context) error {
		if err := a.ready(); err != nil {
			return err
		}
		if !a.state.IsStopped() {
			return nil
		}
		id := newActionID()
		return a.doAndUpdateState(ctx, "Start", id, func(context.Context) error {
			if err := a.subscribe(a.state.Position); err != nil {
				return err
			}
			a.state = a.state.Started()
			a.logger.Info("consumer started", log.Action("Start"), log.ActionID(id), log.Str("position", a.state.Position))
			return nil
		})
	})
}

// Stop unsubscribes unless the consumer is already stopped. Stopping a
// failed consumer keeps its position, so a later Start redelivers the
// failed event.
func (a *Actor) Stop() *dispatch.Future {
	return a.dispatcher.Dispatch(func(ctx context.Context) error {
		if err := a.ready(); err != nil {
			return err
		}
		if a.state.IsStopped() {
			return nil
		}
		id := newActionID()
		return a.doAndUpdateState(ctx, "Stop", id, func(context.Context) error {
			if err := a.unsubscribe(); err != nil {
				return err
			}
			a.state = a.state.Stopped()
			a.logger.Info("consumer stopped", log.Action("Stop"), log.ActionID(id), log.Str("position", a.state.Position))
			return nil
		})
	})
}

// Reset unsubscribes, clears the consumer and subscribes again from the
// beginning of the log (or stays stopped under ResetStop).
func (a *Actor) Reset() *dispatch.Future {
	return a.dispatcher.Dispatch(func(ctx context.Context) error {
		if err := a.ready(); err != nil {
			return err
		}
		id := newActionID()
		return a.doAndUpdateState(ctx, "Reset", id, func(ctx context.Context) error {
			if err := a.unsubscribe(); err != nil {
				return err
			}
			if err := a.clear(ctx, id); err != nil {
				return err
			}
			a.state = a.state.Reset()
			if a.opts.ResetPolicy == ResetStop {
				a.state = a.state.Stopped()
				return nil
			}
			return a.subscribe(a.state.Position)
		})
	})
}

// Status returns the state published by the last completed step.
func (a *Actor) Status() Info {
	if p := a.info.Load(); p != nil {
		return *p
	}
	return DefaultState().Info("")
}

// Name is the bound consumer's name, or the snapshot key before Setup.
func (a *Actor) Name() string { return a.Status().Name }

// Close releases the subscription without changing the persisted status,
// then drains the dispatcher.
func (a *Actor) Close(ctx context.Context) error {
	var retired []subscription.Subscription
	f := a.dispatcher.Dispatch(func(context.Context) error {
		err := a.unsubscribe()
		retired, a.retired = a.retired, nil
		return err
	})
	err := f.Wait(ctx)
	err = multierr.Append(err, a.dispatcher.Shutdown(ctx))
	for _, s := range retired {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return multierr.Append(err, ctx.Err())
		}
	}
	if errors.Is(err, dispatch.ErrClosed) {
		return nil
	}
	return err
}

func (a *Actor) ready() error {
	if a.persistence == nil {
		return ErrNotActivated
	}
	if a.consumer == nil {
		return ErrNotSetup
	}
	return nil
}

func (a *Actor) name() string {
	if a.consumer != nil {
		return a.consumer.Name()
	}
	return a.key
}

func (a *Actor) publish() {
	info := a.state.Info(a.name())
	a.info.Store(&info)
	metrics.SetStatus(info.Name, strings.ToLower(string(info.Status)))
	if tok, err := eventlog.ParseToken(info.Position); err == nil {
		metrics.ConsumerPosition.WithLabelValues(info.Name).Set(float64(tok.Seq()))
	}
}

// doAndUpdateState runs fn and persists the resulting state. A failing fn
// closes the subscription and moves the consumer to Failed.
func (a *Actor) doAndUpdateState(ctx context.Context, action, actionID string, fn func(context.Context) error) error {
	if err := guard(ctx, fn); err != nil {
		if uerr := a.unsubscribe(); uerr != nil {
			err = multierr.Append(err, uerr)
		}
		a.logger.Crit("consumer action failed",
			log.Action(action), log.ActionID(actionID), log.Str("state", string(StatusFailed)), log.Err(err))
		metrics.ConsumerFailuresTotal.WithLabelValues(a.name(), action).Inc()
		a.state = a.state.Failed(err, a.opts.Now())
	}
	a.publish()
	if err := a.persistence.Write(ctx, a.state); err != nil {
		a.logger.Error("snapshot write failed", log.Action(action), log.ActionID(actionID), log.Err(err))
		return err
	}
	return nil
}

func guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (a *Actor) subscribe(position string) error {
	if a.sub != nil {
		return nil
	}
	a.generation++
	so := subscription.Options{
		Name:         a.name(),
		Filter:       a.consumer.EventsFilter(),
		From:         position,
		Generation:   a.generation,
		BatchSize:    a.opts.BatchSize,
		PollInterval: a.opts.PollInterval,
		Logger:       a.logger,
	}
	if ef, ok := a.consumer.(ExprFilterer); ok {
		so.Expr = ef.EventsExpr()
	}
	sub, err := a.opts.Subscribe(so, listener{a: a})
	if err != nil {
		return err
	}
	a.sub = sub
	return nil
}

func (a *Actor) unsubscribe() error {
	if a.sub == nil {
		return nil
	}
	sub := a.sub
	a.sub = nil
	a.retired = append(pruneDone(a.retired), sub)
	return sub.Stop()
}

// pruneDone drops subscriptions whose goroutines have exited.
func pruneDone(subs []subscription.Subscription) []subscription.Subscription {
	out := subs[:0]
	for _, s := range subs {
		select {
		case <-s.Done():
		default:
			out = append(out, s)
		}
	}
	return out
}

// current reports whether sub is the live subscription.
func (a *Actor) current(sub subscription.Subscription) bool {
	return a.sub != nil && sub.Generation() == a.generation
}

func (a *Actor) handleEvent(ctx context.Context, sub subscription.Subscription, ev eventlog.StoredEvent) error {
	if !a.current(sub) {
		return nil
	}
	start := time.Now()
	actionID := ev.Data.EventID
	if actionID == "" {
		actionID = newActionID()
	}
	result := "ok"
	err := a.doAndUpdateState(ctx, "HandleEvent", actionID, func(ctx context.Context) error {
		env, err := a.opts.Formatter.Parse(ev)
		switch {
		case errors.Is(err, events.ErrUnknownType):
			a.logger.Debug("skipping event of unknown type",
				log.Str("event_type", ev.Data.Type), log.Str("position", ev.Position.String()))
			result = "skipped"
		case err != nil:
			return err
		default:
			if err := a.dispatchConsumer(ctx, actionID, env); err != nil {
				return err
			}
		}
		a.state = a.state.Handled(ev.Position.String())
		return nil
	})
	if a.state.Status == StatusFailed {
		result = "error"
	}
	metrics.EventsHandledTotal.WithLabelValues(a.name(), result).Inc()
	metrics.EventHandleSeconds.WithLabelValues(a.name()).Observe(time.Since(start).Seconds())
	return err
}

func (a *Actor) handleError(ctx context.Context, sub subscription.Subscription, cause error) error {
	if !a.current(sub) {
		return nil
	}
	id := newActionID()
	return a.doAndUpdateState(ctx, "HandleError", id, func(context.Context) error {
		if err := a.unsubscribe(); err != nil {
			cause = multierr.Append(cause, err)
		}
		a.logger.Error("subscription failed", log.Action("HandleError"), log.ActionID(id), log.Err(cause))
		metrics.ConsumerFailuresTotal.WithLabelValues(a.name(), "HandleError").Inc()
		a.state = a.state.Failed(cause, a.opts.Now())
		return nil
	})
}

func (a *Actor) dispatchConsumer(ctx context.Context, actionID string, env events.Envelope) error {
	fields := []log.Field{
		log.Action("HandleEvent"),
		log.ActionID(actionID),
		log.Str("event_id", env.Headers.EventID),
		log.Str("event_type", env.Headers.EventType),
	}
	a.logger.Debug("handling event", append(fields, log.Str("state", "Started"))...)
	start := time.Now()
	if err := a.consumer.On(ctx, env); err != nil {
		return err
	}
	a.logger.Info("event handled", append(fields, log.Str("state", "Completed"), log.Dur("elapsed", time.Since(start)))...)
	return nil
}

func (a *Actor) clear(ctx context.Context, actionID string) error {
	a.logger.Info("consumer reset", log.Action("Reset"), log.ActionID(actionID), log.Str("state", "Started"))
	start := time.Now()
	if err := a.consumer.Clear(ctx); err != nil {
		return err
	}
	a.logger.Info("consumer reset", log.Action("Reset"), log.ActionID(actionID), log.Str("state", "Completed"), log.Dur("elapsed", time.Since(start)))
	return nil
}

var newUUID = uuid.NewV4

var fallbackIDSeq atomic.Uint64

// newActionID returns a UUIDv4. If the random source fails it falls back to
// a timestamp id made unique by a process-wide counter.
func newActionID() string {
	id, err := newUUID()
	if err != nil {
		return fmt.Sprintf("t-%x-%x", time.Now().UnixNano(), fallbackIDSeq.Add(1))
	}
	return id.String()
}

// listener funnels subscription callbacks into the actor's dispatcher. It
// waits for the queued step so delivery is paced by handling.
type listener struct{ a *Actor }

func (l listener) OnEvent(ctx context.Context, sub subscription.Subscription, ev eventlog.StoredEvent) error {
	f, err := l.a.dispatcher.Submit(ctx, func(wctx context.Context) error {
		return l.a.handleEvent(wctx, sub, ev)
	})
	if err != nil {
		return err
	}
	select {
	case <-f.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l listener) OnError(ctx context.Context, sub subscription.Subscription, cause error) error {
	_, err := l.a.dispatcher.Submit(ctx, func(wctx context.Context) error {
		return l.a.handleError(wctx, sub, cause)
	})
	return err
}
