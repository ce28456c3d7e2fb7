package projections

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/events"
	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
)

// StreamStats counts events per stream and per type.
//
// Keys live under proj/{name}/:
//   - s/{stream}  event count of a stream
//   - t/{type}    event count of a type
//   - pos         last applied position
type StreamStats struct {
	db     *pebblestore.DB
	name   string
	filter string
	prefix []byte
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Streams  map[string]uint64 `json:"streams"`
	Types    map[string]uint64 `json:"types"`
	Position string            `json:"position,omitempty"`
}

func NewStreamStats(db *pebblestore.DB, name, filter string) *StreamStats {
	return &StreamStats{db: db, name: name, filter: filter, prefix: []byte("proj/" + name + "/")}
}

func (s *StreamStats) Name() string         { return s.name }
func (s *StreamStats) EventsFilter() string { return s.filter }

func (s *StreamStats) key(parts ...string) []byte {
	k := append([]byte(nil), s.prefix...)
	return append(k, strings.Join(parts, "/")...)
}

func (s *StreamStats) readUint(k []byte) (uint64, error) {
	v, err := s.db.Get(k)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) < 8 {
		return 0, fmt.Errorf("stream-stats: malformed counter %q", k)
	}
	return binary.BigEndian.Uint64(v), nil
}

func be8(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// On applies one event. Events at or before the last applied position are
// ignored.
func (s *StreamStats) On(ctx context.Context, env events.Envelope) error {
	pos, err := eventlog.ParseToken(env.Headers.Position)
	if err != nil {
		return err
	}
	last, err := s.readUint(s.key("pos"))
	if err != nil {
		return err
	}
	if pos.Seq() <= last {
		return nil
	}
	streamKey := s.key("s", env.Headers.Stream)
	typeKey := s.key("t", env.Headers.EventType)
	streamCount, err := s.readUint(streamKey)
	if err != nil {
		return err
	}
	typeCount, err := s.readUint(typeKey)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(streamKey, be8(streamCount+1), nil); err != nil {
		return err
	}
	if err := b.Set(typeKey, be8(typeCount+1), nil); err != nil {
		return err
	}
	if err := b.Set(s.key("pos"), be8(pos.Seq()), nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// Clear drops all counters.
func (s *StreamStats) Clear(ctx context.Context) error {
	return s.db.DeletePrefix(ctx, s.prefix)
}

// Snapshot reads the current counters.
func (s *StreamStats) Snapshot() (Stats, error) {
	out := Stats{Streams: map[string]uint64{}, Types: map[string]uint64{}}
	err := s.db.ScanPrefix(s.prefix, func(k, v []byte) error {
		if len(v) < 8 {
			return fmt.Errorf("stream-stats: malformed counter %q", k)
		}
		n := binary.BigEndian.Uint64(v)
		rest := string(k[len(s.prefix):])
		switch {
		case rest == "pos":
			out.Position = eventlog.TokenFromSeq(n).String()
		case strings.HasPrefix(rest, "s/"):
			out.Streams[rest[2:]] = n
		case strings.HasPrefix(rest, "t/"):
			out.Types[rest[2:]] = n
		}
		return nil
	})
	return out, err
}
