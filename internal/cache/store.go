package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrMiss indicates a cache miss. Corrupt entries are reported as misses too.
var ErrMiss = errors.New("cache miss")

// Store persists converted text. A key names one deterministic conversion, so
// a second Put for the same key carries the same text and implementations may
// keep either write.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, text string) error
	// Purge removes every entry. It is always safe: an empty cache only costs
	// reconversion.
	Purge(ctx context.Context) error
	Close() error
}

// MemoryStore is an in-process Store used by tests and cache-less runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	text, ok := m.data[key]
	if !ok {
		return "", ErrMiss
	}
	return text, nil
}

func (m *MemoryStore) Put(_ context.Context, key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; !ok {
		m.data[key] = text
	}
	return nil
}

func (m *MemoryStore) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]string)
	return nil
}

// Len reports the number of entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Close() error { return nil }
