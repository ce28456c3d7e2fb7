package projections

import (
	"fmt"

	"github.com/rzbill/eventpump/internal/eventconsumer"
	pebblestore "github.com/rzbill/eventpump/internal/storage/pebble"
	"github.com/rzbill/eventpump/pkg/log"
)

const (
	KindStreamStats = "stream-stats"
	KindEventLog    = "event-log"
)

// Kinds lists the built-in consumer kinds.
func Kinds() []string { return []string{KindStreamStats, KindEventLog} }

// Definition describes one configured consumer.
type Definition struct {
	Name   string
	Kind   string
	Filter string
	Expr   string
}

// New builds the consumer described by def.
func New(db *pebblestore.DB, def Definition, logger log.Logger) (eventconsumer.Consumer, error) {
	switch def.Kind {
	case KindStreamStats:
		if def.Expr != "" {
			return nil, fmt.Errorf("consumer %s: kind %s does not support expr", def.Name, def.Kind)
		}
		return NewStreamStats(db, def.Name, def.Filter), nil
	case KindEventLog:
		return NewEventLogger(def.Name, def.Filter, def.Expr, logger), nil
	default:
		return nil, fmt.Errorf("consumer %s: unknown kind %q", def.Name, def.Kind)
	}
}
