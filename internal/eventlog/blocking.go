package eventlog

import (
	"context"
	"time"
)

func (l *Log) waitCh() (<-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notifyCh, l.closed
}

// WaitForAppend blocks until either a new append occurs or timeout elapses.
// It returns true if woken by an append (or Close), false on timeout.
func (l *Log) WaitForAppend(timeout time.Duration) bool {
	woke, _ := l.WaitForAppendContext(context.Background(), timeout)
	return woke
}

// WaitForAppendContext is WaitForAppend bounded by ctx. A non-positive
// timeout waits until an append, Close or ctx is done.
func (l *Log) WaitForAppendContext(ctx context.Context, timeout time.Duration) (bool, error) {
	ch, closed := l.waitCh()
	if closed {
		return true, ErrClosed
	}
	return waitOn(ctx, ch, timeout)
}

func waitOn(ctx context.Context, ch <-chan struct{}, timeout time.Duration) (bool, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ch:
		return true, nil
	case <-timer:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
