package cache

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	now     Clock
	closed  bool
}

func NewMemoryStore(now Clock) Store {
	if now == nil {
		now = time.Now
	}
	return &memoryStore{
		entries: make(map[Key]Entry),
		now:     now,
	}
}

func (m *memoryStore) Get(_ context.Context, key Key) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Entry{}, false, BackendError("get", errClosed)
	}
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	e.Payload = append([]byte(nil), e.Payload...)
	return e, true, nil
}

func (m *memoryStore) Put(ctx context.Context, key Key, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return BackendError("put", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return BackendError("put", errClosed)
	}
	m.entries[key] = Entry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		FetchedAt: m.now(),
		TTL:       ttl,
	}
	return nil
}

func (m *memoryStore) IsStale(ctx context.Context, key Key) (bool, error) {
	e, ok, err := m.Get(ctx, key)
	if err != nil {
		return true, err
	}
	return !ok || !e.Fresh(m.now()), nil
}

func (m *memoryStore) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, BackendError("sweep", errClosed)
	}
	removed := 0
	for k, e := range m.entries {
		if e.FetchedAt.Before(olderThan) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
