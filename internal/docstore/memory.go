package docstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/matheus3301/messenger/internal/bus"
	"go.uber.org/zap"
)

// Memory is a process-local backend. Nothing survives a restart; it backs
// ephemeral profiles and tests.
type Memory struct {
	mu     sync.Mutex
	docs   map[string][]byte
	revs   map[string]int64
	bus    *bus.Bus
	logger *zap.Logger
}

// NewMemory creates an empty in-memory backend publishing changes on b.
func NewMemory(b *bus.Bus, logger *zap.Logger) *Memory {
	if b == nil {
		b = bus.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		docs:   make(map[string][]byte),
		revs:   make(map[string]int64),
		bus:    b,
		logger: logger,
	}
}

// Load implements Backend.
func (m *Memory) Load(_ context.Context, root string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[root]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(doc), nil
}

// Update implements Backend.
func (m *Memory) Update(ctx context.Context, root string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	cur := m.docs[root]
	next, err := fn(bytes.Clone(cur))
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if bytes.Equal(cur, next) {
		m.mu.Unlock()
		return nil
	}
	if next == nil {
		delete(m.docs, root)
	} else {
		m.docs[root] = bytes.Clone(next)
	}
	m.revs[root]++
	rev := m.revs[root]
	m.mu.Unlock()

	PublishChange(m.bus, root, rev)
	return nil
}

// Watch implements Backend.
func (m *Memory) Watch(ctx context.Context, root string) (RootWatcher, error) {
	return WatchBus(ctx, m.bus, root, func(ctx context.Context) ([]byte, error) {
		return m.Load(ctx, root)
	}, m.logger), nil
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }
