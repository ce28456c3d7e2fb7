package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rzbill/eventpump/internal/eventlog"
)

// ErrUnknownType is returned by Parse for event types nobody registered.
var ErrUnknownType = errors.New("events: unknown event type")

// Factory returns a pointer to decode a payload into.
type Factory func() any

// Formatter maps event type tags to payload types.
type Formatter struct {
	mu    sync.RWMutex
	types map[string]Factory
}

func NewFormatter() *Formatter {
	return &Formatter{types: map[string]Factory{}}
}

// Register binds typeName to payloads produced by factory.
func (f *Formatter) Register(typeName string, factory Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[typeName] = factory
}

// RegisterRaw binds typeName to undecoded json.RawMessage payloads.
func (f *Formatter) RegisterRaw(typeName string) {
	f.Register(typeName, func() any { return new(json.RawMessage) })
}

// Types lists registered type names in sorted order.
func (f *Formatter) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.types))
	for t := range f.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Parse decodes ev into an Envelope. Unregistered types yield ErrUnknownType.
func (f *Formatter) Parse(ev eventlog.StoredEvent) (Envelope, error) {
	f.mu.RLock()
	factory, ok := f.types[ev.Data.Type]
	f.mu.RUnlock()
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, ev.Data.Type)
	}
	payload := factory()
	if len(ev.Data.Payload) > 0 {
		if err := json.Unmarshal(ev.Data.Payload, payload); err != nil {
			return Envelope{}, fmt.Errorf("events: decode %s at %s: %w", ev.Data.Type, ev.Position, err)
		}
	}
	return Envelope{Payload: payload, Headers: headersOf(ev)}, nil
}

// ToEventData encodes payload as JSON for Append.
func ToEventData(typeName string, payload any, metadata map[string]string) (eventlog.EventData, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return eventlog.EventData{}, fmt.Errorf("events: encode %s: %w", typeName, err)
	}
	return eventlog.EventData{Type: typeName, Payload: b, Metadata: metadata}, nil
}
