package adapter

import (
	"context"
	"sync"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/relay/port"
)

// MemoryRelay delivers envelopes synchronously to every in-process subscriber.
// It lets several routers in one process behave like separate nodes.
type MemoryRelay struct {
	mu   sync.RWMutex
	next int
	subs map[int]port.Handler
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{subs: make(map[int]port.Handler)}
}

var _ port.Relay = (*MemoryRelay)(nil)

func (m *MemoryRelay) Publish(ctx context.Context, env port.Envelope) error {
	m.mu.RLock()
	handlers := make([]port.Handler, 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, env)
	}
	return nil
}

func (m *MemoryRelay) Subscribe(ctx context.Context, h port.Handler) error {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = h
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
	return nil
}

// Subscribers reports how many handlers are registered.
func (m *MemoryRelay) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (m *MemoryRelay) Close() error { return nil }
