// Package eventlog implements the local append-only event log consumed by
// event consumers.
//
// # Overview
//
// The log is a single globally ordered sequence persisted in Pebble. Every
// entry belongs to a named stream and carries a per-stream version used for
// optimistic concurrency on Append. Keys are lexicographically ordered for
// efficient range scans:
//   - log/m                          (global metadata: lastSeq)
//   - log/e/{seq_be8}                (entries)
//   - log/s/{stream}                 (stream metadata: last version)
//   - log/x/{stream}/{version_be8}   (stream index: version -> seq)
//
// Records are stored as: varint headerLen | header | payload | crc32c(header|payload).
//
// API surface (internal)
//
//	l, _ := eventlog.Open(db, eventlog.Options{})
//	// Append a batch atomically, checking the stream is still empty
//	evs, _ := l.Append(ctx, "orders-42", eventlog.NoStream, []eventlog.EventData{{Type: "OrderPlaced", Payload: p}})
//
//	// Read forward strictly after a position
//	items, _ := l.Read(eventlog.ReadOptions{After: evs[0].Position, Limit: 100})
//
//	// Tail streams matching a pattern until ctx is done
//	_ = l.Tail(ctx, eventlog.TailOptions{Filter: "^orders-"}, func(ev eventlog.StoredEvent) error { return nil })
//
// Positions render as decimal strings via Token.String and ParseToken; the
// empty string is the position before the first entry.
package eventlog
