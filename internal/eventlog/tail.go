package eventlog

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

const (
	defaultTailBatch = 256
	defaultPoll      = 500 * time.Millisecond
)

// TailOptions configures Tail.
type TailOptions struct {
	// Filter is a regular expression matched against stream names. Empty
	// matches every stream.
	Filter string
	// Expr is an optional CEL predicate over the event.
	Expr string
	// After is exclusive; the zero token tails from the first entry.
	After     Token
	BatchSize int
	// PollInterval bounds how long Tail sleeps between appends.
	PollInterval time.Duration
}

// Tail delivers matching events after opts.After to fn in log order, then
// keeps waiting for appends until ctx is done, fn fails or the log fails.
// It returns fn's error unchanged, ctx.Err() on cancellation and ErrClosed
// once the log is closed.
func (l *Log) Tail(ctx context.Context, opts TailOptions, fn func(StoredEvent) error) error {
	var re *regexp.Regexp
	if opts.Filter != "" {
		var err error
		if re, err = regexp.Compile(opts.Filter); err != nil {
			return fmt.Errorf("eventlog: invalid stream filter: %w", err)
		}
	}
	expr, err := newCELFilter(opts.Expr)
	if err != nil {
		return fmt.Errorf("eventlog: invalid expression: %w", err)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultTailBatch
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}

	cursor := opts.After
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Grab the notify channel before reading so an append racing the
		// read still wakes us.
		ch, closed := l.waitCh()
		if closed {
			return ErrClosed
		}
		batch, err := l.Read(ReadOptions{After: cursor, Limit: opts.BatchSize})
		if err != nil {
			return err
		}
		for _, ev := range batch {
			cursor = ev.Position
			if re != nil && !re.MatchString(ev.Stream) {
				continue
			}
			if !expr.Eval(ev) {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
		if len(batch) == opts.BatchSize {
			continue
		}
		if _, err := waitOn(ctx, ch, opts.PollInterval); err != nil {
			return err
		}
	}
}
