package transports

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/runtime"
)

// LocalTransport implements StreamsTransport on a Runtime opened over a
// data directory. The server must not be running on the same directory.
type LocalTransport struct {
	rt *runtime.Runtime
}

func NewLocalTransport(rt *runtime.Runtime) *LocalTransport {
	return &LocalTransport{rt: rt}
}

func (t *LocalTransport) Publish(ctx context.Context, req PublishRequest) ([]string, error) {
	expected := int64(eventlog.AnyVersion)
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	evs := make([]eventlog.EventData, 0, len(req.Events))
	for _, e := range req.Events {
		evs = append(evs, eventlog.EventData{EventID: e.ID, Type: e.Type, Payload: e.Payload, Metadata: e.Metadata})
	}
	stored, err := t.rt.Publish(ctx, req.Stream, expected, evs)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(stored))
	for i, ev := range stored {
		out[i] = ev.Position.String()
	}
	return out, nil
}

func (t *LocalTransport) Read(_ context.Context, req ReadRequest) ([]Event, error) {
	var (
		items []eventlog.StoredEvent
		err   error
	)
	if req.Stream != "" {
		items, err = t.rt.Log().ReadStream(req.Stream, req.From, req.Limit)
	} else {
		after, perr := eventlog.ParseToken(req.After)
		if perr != nil {
			return nil, perr
		}
		items, err = t.rt.Log().Read(eventlog.ReadOptions{After: after, Limit: req.Limit})
	}
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(items))
	for _, ev := range items {
		out = append(out, fromStored(ev))
	}
	return out, nil
}

func (t *LocalTransport) Tail(ctx context.Context, req TailRequest, onEvent func(Event) error) error {
	after, err := eventlog.ParseToken(req.After)
	if err != nil {
		return err
	}
	sent := 0
	err = t.rt.Log().Tail(ctx, eventlog.TailOptions{Filter: req.Filter, Expr: req.Expr, After: after}, func(ev eventlog.StoredEvent) error {
		if err := onEvent(fromStored(ev)); err != nil {
			return err
		}
		sent++
		if req.Limit > 0 && sent >= req.Limit {
			return ErrLimitReached
		}
		return nil
	})
	if errors.Is(err, ErrLimitReached) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func fromStored(ev eventlog.StoredEvent) Event {
	out := Event{
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
