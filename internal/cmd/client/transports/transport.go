// Package transports lets CLI commands reach the event log either through a
// running server's HTTP API or directly through a local data directory.
package transports

import (
	"context"
	"encoding/json"
	"errors"
)

// Event is a stored event as seen by the CLI.
type Event struct {
	Position    string            `json:"position"`
	Stream      string            `json:"stream"`
	Version     uint64            `json:"version"`
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	TimestampMs int64             `json:"timestampMs"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	PayloadRaw  []byte            `json:"payloadRaw,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewEvent is one event to publish. Payload must be JSON.
type NewEvent struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PublishRequest appends events to one stream. A nil ExpectedVersion
// accepts any current version.
type PublishRequest struct {
	Stream          string     `json:"stream"`
	ExpectedVersion *int64     `json:"expectedVersion,omitempty"`
	Events          []NewEvent `json:"events"`
}

// ReadRequest reads one stream from version From when Stream is set, or the
// global log after position After otherwise.
type ReadRequest struct {
	Stream string
	From   uint64
	After  string
	Limit  int
}

// TailRequest follows the global log after After. Limit 0 tails until the
// context is done.
type TailRequest struct {
	Filter string
	Expr   string
	After  string
	Limit  int
}

// StreamsTransport abstracts how the CLI reaches the event log.
type StreamsTransport interface {
	Publish(ctx context.Context, req PublishRequest) (positions []string, err error)
	Read(ctx context.Context, req ReadRequest) ([]Event, error)
	Tail(ctx context.Context, req TailRequest, onEvent func(Event) error) error
}

// ErrLimitReached ends a tail after TailRequest.Limit events.
var ErrLimitReached = errors.New("transports: tail limit reached")
