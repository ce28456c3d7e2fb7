package eventlog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a stream or entry does not exist.
	ErrNotFound = errors.New("eventlog: not found")
	// ErrCorrupt marks an entry whose checksum or header failed validation.
	ErrCorrupt = errors.New("eventlog: corrupt entry")
	// ErrUnavailable wraps storage failures that may succeed when retried.
	ErrUnavailable = errors.New("eventlog: unavailable")
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("eventlog: closed")
	// ErrInvalidStream is returned for empty stream names or names containing '/'.
	ErrInvalidStream = errors.New("eventlog: invalid stream name")
)

// VersionMismatchError reports a failed optimistic concurrency check on Append.
type VersionMismatchError struct {
	Stream   string
	Expected int64
	Actual   uint64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("eventlog: stream %q at version %d, expected %d", e.Stream, e.Actual, e.Expected)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
