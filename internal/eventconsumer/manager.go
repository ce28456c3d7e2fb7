package eventconsumer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/eventpump/internal/dispatch"
)

var (
	ErrUnknownConsumer   = errors.New("eventconsumer: unknown consumer")
	ErrDuplicateConsumer = errors.New("eventconsumer: consumer already registered")
)

// Manager runs one Actor per registered Consumer.
type Manager struct {
	opts Options

	mu     sync.RWMutex
	actors map[string]*Actor
}

// NewManager builds actors from opts for every registered consumer.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, actors: map[string]*Actor{}}
}

// Register activates an actor for c under c.Name() and binds c to it.
func (m *Manager) Register(ctx context.Context, c Consumer) (*Actor, error) {
	name := c.Name()
	if name == "" {
		return nil, errors.New("eventconsumer: consumer name is required")
	}
	m.mu.Lock()
	if _, ok := m.actors[name]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConsumer, name)
	}
	a := NewActor(m.opts)
	m.actors[name] = a
	m.mu.Unlock()

	err := a.Activate(ctx, name)
	if err == nil {
		err = a.Setup(c).Wait(ctx)
	}
	if err != nil {
		m.mu.Lock()
		delete(m.actors, name)
		m.mu.Unlock()
		_ = a.Close(ctx)
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	return a, nil
}

// Get returns the actor registered under name.
func (m *Manager) Get(name string) (*Actor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[name]
	return a, ok
}

func (m *Manager) lookup(name string) (*Actor, error) {
	a, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConsumer, name)
	}
	return a, nil
}

func (m *Manager) Start(name string) (*dispatch.Future, error) {
	a, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return a.Start(), nil
}

func (m *Manager) Stop(name string) (*dispatch.Future, error) {
	a, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return a.Stop(), nil
}

func (m *Manager) Reset(name string) (*dispatch.Future, error) {
	a, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return a.Reset(), nil
}

// Status returns the status of one consumer.
func (m *Manager) Status(name string) (Info, error) {
	a, err := m.lookup(name)
	if err != nil {
		return Info{}, err
	}
	return a.Status(), nil
}

// Statuses returns every consumer's status sorted by name.
func (m *Manager) Statuses() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, a.Status())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes all actors concurrently and forgets them.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	actors := m.actors
	m.actors = map[string]*Actor{}
	m.mu.Unlock()

	var g errgroup.Group
	for name, a := range actors {
		g.Go(func() error {
			if err := a.Close(ctx); err != nil {
				return fmt.Errorf("close %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
