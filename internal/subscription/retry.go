package subscription

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/metrics"
	"github.com/rzbill/eventpump/pkg/log"
)

type BackoffType string

const (
	BackoffExp       BackoffType = "exp"
	BackoffExpJitter BackoffType = "exp-jitter"
	BackoffFixed     BackoffType = "fixed"
	BackoffNone      BackoffType = "none"
)

// RetryPolicy controls re-subscription after transient failures.
// MaxAttempts of 0 retries forever.
type RetryPolicy struct {
	Type        BackoffType   `json:"type"`
	Base        time.Duration `json:"base"`
	Cap         time.Duration `json:"cap"`
	Factor      float64       `json:"factor"`
	MaxAttempts uint32        `json:"maxAttempts"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Type: BackoffExpJitter, Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2.0}
}

// ParseBackoffType maps exp|exp-jitter|fixed|none to a BackoffType.
func ParseBackoffType(s string) (BackoffType, bool) {
	switch t := BackoffType(s); t {
	case BackoffExp, BackoffExpJitter, BackoffFixed, BackoffNone:
		return t, true
	}
	return "", false
}

func computeBackoff(pol RetryPolicy, attempts uint32) time.Duration {
	switch pol.Type {
	case BackoffNone:
		return 0
	case BackoffFixed:
		if pol.Base <= 0 {
			return 0
		}
		if pol.Cap > 0 && pol.Base > pol.Cap {
			return pol.Cap
		}
		return pol.Base
	case BackoffExp, BackoffExpJitter:
		base := pol.Base
		if base <= 0 {
			base = 200 * time.Millisecond
		}
		factor := pol.Factor
		if factor <= 0 {
			factor = 2.0
		}
		if attempts == 0 {
			attempts = 1
		}
		delay := float64(base) * math.Pow(factor, float64(attempts-1))
		d := time.Duration(math.MaxInt64)
		if delay < math.MaxInt64 {
			d = time.Duration(delay)
		}
		if pol.Cap > 0 && d > pol.Cap {
			d = pol.Cap
		}
		if pol.Type == BackoffExpJitter {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)))
		}
		return d
	default:
		return 0
	}
}

type transientError struct{ err error }

func (e transientError) Error() string   { return e.err.Error() }
func (e transientError) Unwrap() error   { return e.err }
func (e transientError) Temporary() bool { return true }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether a subscription failure is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, eventlog.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// Retry is a Subscription that transparently re-opens its inner Push
// subscription after transient failures.
type Retry struct {
	log      EventLog
	opts     Options
	policy   RetryPolicy
	listener Listener
	logger   log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// innerGen identifies the current inner session.
	innerGen atomic.Uint64

	mu       sync.Mutex
	position string
	attempts uint32
	lastErr  error
}

// NewRetry starts a retrying subscription. opts.Generation is the identity
// reported to listener; inner sessions use their own counter.
func NewRetry(l EventLog, opts Options, policy RetryPolicy, listener Listener) (*Retry, error) {
	if _, err := eventlog.ParseToken(opts.From); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Retry{
		log:      l,
		opts:     opts,
		policy:   policy,
		listener: listener,
		logger:   opts.logger().With(log.Str("subscription", opts.Name), log.Uint64("generation", opts.Generation)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		position: opts.From,
	}
	go r.run()
	return r, nil
}

func (r *Retry) Generation() uint64    { return r.opts.Generation }
func (r *Retry) Done() <-chan struct{} { return r.done }

func (r *Retry) Stop() error {
	r.cancel()
	return nil
}

// Position is the last position delivered to the listener.
func (r *Retry) Position() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *Retry) run() {
	defer close(r.done)
	for {
		gen := r.innerGen.Add(1)
		inner, err := r.openInner(gen)
		if err != nil {
			r.surface(err)
			return
		}
		opened := time.Now()
		select {
		case <-inner.Done():
		case <-r.ctx.Done():
			_ = inner.Stop()
			<-inner.Done()
			return
		}

		attempt, retry, err := r.nextAttempt(time.Since(opened))
		if err == nil {
			// ended by the listener or by Stop
			return
		}
		if !retry {
			r.surface(err)
			return
		}
		delay := computeBackoff(r.policy, attempt)
		metrics.SubscriptionRetriesTotal.WithLabelValues(r.opts.Name).Inc()
		r.logger.Warn("subscription failed, retrying",
			log.Err(err), log.Int("attempt", int(attempt)), log.Dur("backoff", delay), log.Str("from", r.Position()))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-r.ctx.Done():
			t.Stop()
			return
		}
	}
}

func (r *Retry) openInner(gen uint64) (*Push, error) {
	r.mu.Lock()
	opts := r.opts
	opts.From = r.position
	opts.Generation = gen
	r.lastErr = nil
	r.mu.Unlock()
	return open(r.ctx, r.log, opts, innerListener{r: r})
}

// minStableSession is the shortest session uptime that counts as a
// recovery, whatever the policy's Base.
const minStableSession = 50 * time.Millisecond

// nextAttempt consumes the inner session's failure and decides whether to
// retry. A session that stayed up for at least max(Base, minStableSession)
// restarts the attempt count, so an idle log on a flaky connection does not
// exhaust MaxAttempts.
func (r *Retry) nextAttempt(uptime time.Duration) (attempt uint32, retry bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.lastErr
	if err == nil || !IsTransient(err) {
		return r.attempts, false, err
	}
	if uptime >= max(r.policy.Base, minStableSession) {
		r.attempts = 0
	}
	if r.policy.MaxAttempts > 0 && r.attempts >= r.policy.MaxAttempts {
		return r.attempts, false, err
	}
	r.attempts++
	return r.attempts, true, err
}

func (r *Retry) surface(err error) {
	if r.ctx.Err() != nil {
		return
	}
	r.logger.Error("subscription failed", log.Err(err))
	_ = r.listener.OnError(r.ctx, r, err)
}

// innerListener forwards inner callbacks of the current session and drops
// those of replaced sessions.
type innerListener struct{ r *Retry }

var errStaleSession = errors.New("subscription: stale session")

func (l innerListener) OnEvent(ctx context.Context, sub Subscription, ev eventlog.StoredEvent) error {
	r := l.r
	if sub.Generation() != r.innerGen.Load() {
		return errStaleSession
	}
	if err := r.listener.OnEvent(ctx, r, ev); err != nil {
		return err
	}
	r.mu.Lock()
	r.position = ev.Position.String()
	r.attempts = 0
	r.mu.Unlock()
	return nil
}

func (l innerListener) OnError(_ context.Context, sub Subscription, err error) error {
	r := l.r
	if sub.Generation() != r.innerGen.Load() {
		return nil
	}
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	return nil
}
