// Package events parses stored log entries into typed envelopes.
package events

import (
	"time"

	"github.com/rzbill/eventpump/internal/eventlog"
)

// Headers carries the log metadata of a parsed event.
type Headers struct {
	EventID       string
	EventType     string
	Stream        string
	Position      string
	StreamVersion uint64
	Timestamp     time.Time
	Metadata      map[string]string
}

// Envelope is a decoded event together with its headers.
type Envelope struct {
	Payload any
	Headers Headers
}

func headersOf(ev eventlog.StoredEvent) Headers {
	return Headers{
		EventID:       ev.Data.EventID,
		EventType:     ev.Data.Type,
		Stream:        ev.Stream,
		Position:      ev.Position.String(),
		StreamVersion: ev.StreamVersion,
		Timestamp:     time.UnixMilli(ev.TimestampMs).UTC(),
		Metadata:      ev.Data.Metadata,
	}
}
