package eventlog

import (
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
)

// ReadOptions selects a window of the global log.
type ReadOptions struct {
	// After is exclusive; the zero token reads from the first entry.
	After Token
	Limit int
}

// Read returns up to Limit events strictly after opts.After in log order.
func (l *Log) Read(opts ReadOptions) ([]StoredEvent, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: KeyEntry(opts.After.Seq() + 1),
		UpperBound: pebblestore.PrefixEnd(entryPrefix),
	})
	if err != nil {
		return nil, unavailable("read", err)
	}
	defer iter.Close()

	items := make([]StoredEvent, 0, max(1, opts.Limit))
	for ok := iter.First(); ok && (opts.Limit <= 0 || len(items) < opts.Limit); ok = iter.Next() {
		ev, err := decodeEvent(seqFromEntryKey(iter.Key()), iter.Value())
		if err != nil {
			return items, err
		}
		items = append(items, ev)
	}
	if err := iter.Error(); err != nil {
		return items, unavailable("read", err)
	}
	return items, nil
}

// ReadStream returns up to limit events of one stream starting at version
// fromVersion (inclusive, 1-based).
func (l *Log) ReadStream(stream string, fromVersion uint64, limit int) ([]StoredEvent, error) {
	if !validStream(stream) {
		return nil, ErrInvalidStream
	}
	if fromVersion == 0 {
		fromVersion = 1
	}
	prefix := KeyStreamIndexPrefix(stream)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: KeyStreamIndex(stream, fromVersion),
		UpperBound: pebblestore.PrefixEnd(prefix),
	})
	if err != nil {
		return nil, unavailable("read stream", err)
	}
	defer iter.Close()

	var items []StoredEvent
	for ok := iter.First(); ok && (limit <= 0 || len(items) < limit); ok = iter.Next() {
		if len(iter.Value()) < 8 {
			return items, ErrCorrupt
		}
		seq := binary.BigEndian.Uint64(iter.Value())
		ev, err := l.get(seq)
		if err != nil {
			return items, err
		}
		items = append(items, ev)
	}
	if err := iter.Error(); err != nil {
		return items, unavailable("read stream", err)
	}
	return items, nil
}

// Get returns the event at pos.
func (l *Log) Get(pos Token) (StoredEvent, error) {
	return l.get(pos.Seq())
}

func (l *Log) get(seq uint64) (StoredEvent, error) {
	val, err := l.db.Get(KeyEntry(seq))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return StoredEvent{}, ErrNotFound
	}
	if err != nil {
		return StoredEvent{}, unavailable("get", err)
	}
	return decodeEvent(seq, val)
}
