package projections

import (
	"context"

	"github.com/rzbill/eventpump/internal/events"
	"github.com/rzbill/eventpump/pkg/log"
)

// EventLogger writes each envelope to the structured log.
type EventLogger struct {
	name   string
	filter string
	expr   string
	logger log.Logger
}

func NewEventLogger(name, filter, expr string, logger log.Logger) *EventLogger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &EventLogger{name: name, filter: filter, expr: expr, logger: logger.With(log.Consumer(name))}
}

func (p *EventLogger) Name() string         { return p.name }
func (p *EventLogger) EventsFilter() string { return p.filter }
func (p *EventLogger) EventsExpr() string   { return p.expr }

func (p *EventLogger) On(_ context.Context, env events.Envelope) error {
	h := env.Headers
	p.logger.Info("event",
		log.Str("stream", h.Stream),
		log.Str("event_type", h.EventType),
		log.Str("event_id", h.EventID),
		log.Str("position", h.Position),
		log.Uint64("stream_version", h.StreamVersion),
		log.Any("payload", env.Payload),
	)
	return nil
}

func (p *EventLogger) Clear(context.Context) error {
	p.logger.Info("event log consumer reset")
	return nil
}
