package eventconsumer

import (
	"context"

	"github.com/rzbill/eventpump/internal/events"
)

// Consumer is the domain logic driven by an Actor.
type Consumer interface {
	// Name identifies the consumer in logs, metrics and its snapshot key.
	Name() string
	// EventsFilter is a regular expression over stream names.
	EventsFilter() string
	// On handles one event. It may be called again for the same event after
	// a crash and must tolerate that.
	On(ctx context.Context, env events.Envelope) error
	// Clear drops everything the consumer built so it can rebuild from the
	// beginning of the log.
	Clear(ctx context.Context) error
}

// ExprFilterer is implemented by consumers that narrow their subscription
// with a CEL predicate.
type ExprFilterer interface {
	EventsExpr() string
}
