package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
	"github.com/rzbill/eventpump/pkg/log"
)

const (
	// AnyVersion disables the optimistic concurrency check on Append.
	AnyVersion int64 = -1
	// NoStream expects the stream to have no events yet.
	NoStream int64 = 0
)

// EventData is an event as handed to Append.
type EventData struct {
	EventID  string
	Type     string
	Payload  []byte
	Metadata map[string]string
}

// StoredEvent is an event as read back from the log.
type StoredEvent struct {
	Stream        string
	StreamVersion uint64
	Position      Token
	TimestampMs   int64
	Data          EventData
}

// Options configures a Log.
type Options struct {
	Logger log.Logger
	// Now overrides the clock used for event timestamps.
	Now func() time.Time
}

// Log is a single, globally ordered append-only event log stored in Pebble.
// Every event belongs to a named stream and carries a per-stream version.
type Log struct {
	db     *pebblestore.DB
	logger log.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
	closed   bool
}

// Open initializes a Log and loads the last sequence from metadata (if any).
func Open(db *pebblestore.DB, opts Options) (*Log, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Log{
		db:       db,
		logger:   opts.Logger.WithComponent("eventlog"),
		now:      opts.Now,
		notifyCh: make(chan struct{}),
	}
	meta, err := db.Get(KeyMeta())
	switch {
	case err == nil && len(meta) >= 8:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, err
	}
	l.logger.Debug("event log opened", log.Uint64("last_seq", l.lastSeq))
	return l, nil
}

func validStream(stream string) bool {
	return stream != "" && !strings.ContainsRune(stream, '/')
}

// Append writes events to stream as one atomic batch. expectedVersion is
// AnyVersion, NoStream or the version the stream must currently be at.
func (l *Log) Append(ctx context.Context, stream string, expectedVersion int64, events []EventData) ([]StoredEvent, error) {
	if !validStream(stream) {
		return nil, ErrInvalidStream
	}
	if len(events) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	version, err := l.streamVersion(stream)
	if err != nil {
		return nil, err
	}
	if expectedVersion != AnyVersion && uint64(expectedVersion) != version {
		return nil, &VersionMismatchError{Stream: stream, Expected: expectedVersion, Actual: version}
	}

	b := l.db.NewBatch()
	defer b.Close()

	ts := l.now().UnixMilli()
	seq := l.lastSeq
	out := make([]StoredEvent, len(events))
	for i, ev := range events {
		seq++
		version++
		if ev.EventID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, err
			}
			ev.EventID = id.String()
		}
		val, err := encodeEvent(recordHeader{
			Stream:   stream,
			Version:  version,
			EventID:  ev.EventID,
			Type:     ev.Type,
			TsMs:     ts,
			Metadata: ev.Metadata,
		}, ev.Payload)
		if err != nil {
			return nil, err
		}
		if err := b.Set(KeyEntry(seq), val, nil); err != nil {
			return nil, err
		}
		if err := b.Set(KeyStreamIndex(stream, version), appendBE8(nil, seq), nil); err != nil {
			return nil, err
		}
		out[i] = StoredEvent{Stream: stream, StreamVersion: version, Position: TokenFromSeq(seq), TimestampMs: ts, Data: ev}
	}
	if err := b.Set(KeyStreamMeta(stream), appendBE8(nil, version), nil); err != nil {
		return nil, err
	}
	if err := b.Set(KeyMeta(), appendBE8(nil, seq), nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastSeq = seq

	// notify waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return out, nil
}

// streamVersion returns the last version of stream; 0 when it has no events.
func (l *Log) streamVersion(stream string) (uint64, error) {
	v, err := l.db.Get(KeyStreamMeta(stream))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("stream meta", err)
	}
	if len(v) < 8 {
		return 0, ErrCorrupt
	}
	return binary.BigEndian.Uint64(v), nil
}

// StreamVersion returns the current version of stream (0 if empty).
func (l *Log) StreamVersion(stream string) (uint64, error) {
	if !validStream(stream) {
		return 0, ErrInvalidStream
	}
	return l.streamVersion(stream)
}

// LastPosition returns the position of the newest entry.
func (l *Log) LastPosition() Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	return TokenFromSeq(l.lastSeq)
}

// Close wakes all waiters; later appends and tails fail with ErrClosed.
// The underlying DB is owned by the caller.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.notifyCh)
	return nil
}
