package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rzbill/eventpump/pkg/log"
)

// ErrClosed is returned for work submitted after Shutdown began.
var ErrClosed = errors.New("dispatch: closed")

const defaultQueueSize = 64

// Work is one unit executed by the Dispatcher. ctx is the Dispatcher's own
// context; it is cancelled only when Shutdown gives up waiting.
type Work func(ctx context.Context) error

// Options configures a Dispatcher.
type Options struct {
	// QueueSize bounds the number of queued, not yet running items.
	QueueSize int
	Name      string
	Logger    log.Logger
}

type task struct {
	work   Work
	future *Future
}

// Dispatcher runs submitted work one item at a time on a single goroutine.
type Dispatcher struct {
	queue  chan task
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	closing  chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// New starts a Dispatcher and its worker goroutine.
func New(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:   make(chan task, opts.QueueSize),
		logger:  opts.Logger.With(log.Str("dispatcher", opts.Name)),
		ctx:     ctx,
		cancel:  cancel,
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for t := range d.queue {
		t.future.complete(d.exec(t.work))
	}
}

func (d *Dispatcher) exec(w Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("work item panicked", log.Any("panic", r), log.Str("stack", string(debug.Stack())))
			err = fmt.Errorf("dispatch: panic: %v", r)
		}
	}()
	return w(d.ctx)
}

// Submit enqueues w. It blocks while the queue is full until there is room,
// ctx is done or Shutdown begins.
func (d *Dispatcher) Submit(ctx context.Context, w Work) (*Future, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	t := task{work: w, future: newFuture()}
	select {
	case d.queue <- t:
		return t.future, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.closing:
		return nil, ErrClosed
	}
}

// Dispatch is the fire-and-forget form of Submit. A rejected submission
// yields an already completed Future carrying the error.
func (d *Dispatcher) Dispatch(w Work) *Future {
	f, err := d.Submit(context.Background(), w)
	if err != nil {
		return Completed(err)
	}
	return f
}

// Shutdown rejects new work, runs everything already queued and waits for
// the worker to exit. If ctx ends first the running item's context is
// cancelled and ctx.Err() is returned; queued items still run.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.closing)
		// Wait for in-flight Submit calls to leave before closing the queue.
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	select {
	case <-d.stopped:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// Stopped is closed once the worker has exited.
func (d *Dispatcher) Stopped() <-chan struct{} { return d.stopped }
