package session

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	data    Data
	expires time.Time
}

// MemoryStore keeps sessions in process. Used by tests and single-node dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]entry{}, now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, token string) (Data, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return Data{}, false, nil
	}
	if m.now().After(e.expires) {
		delete(m.entries, token)
		return Data{}, false, nil
	}
	return e.data, true, nil
}

func (m *MemoryStore) Save(_ context.Context, token string, d Data, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = entry{data: d, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
