package controllers

import (
	"encoding/json"

	"github.com/rzbill/eventpump/internal/eventlog"
)

// publishReq appends events to one stream. ExpectedVersion defaults to
// any version.
type publishReq struct {
	Stream          string       `json:"stream"`
	ExpectedVersion *int64       `json:"expectedVersion,omitempty"`
	Events          []publishEvt `json:"events"`
}

type publishEvt struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type publishResp struct {
	Positions     []string `json:"positions"`
	StreamVersion uint64   `json:"streamVersion"`
}

// eventJSON is the wire form of a stored event. JSON payloads are inlined;
// anything else is sent base64-encoded in payloadRaw.
type eventJSON struct {
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

func toEventJSON(ev eventlog.StoredEvent) eventJSON {
	out := eventJSON{
		Position:    ev.Position.String(),
		Stream:      ev.Stream,
		Version:     ev.StreamVersion,
		ID:          ev.Data.EventID,
		Type:        ev.Data.Type,
		TimestampMs: ev.TimestampMs,
		Metadata:    ev.Data.Metadata,
	}
	switch {
	case len(ev.Data.Payload) == 0:
	case json.Valid(ev.Data.Payload):
		out.Payload = ev.Data.Payload
	default:
		out.PayloadRaw = ev.Data.Payload
	}
	return out
}
