// Package blob is the object store behind the audit trail: opaque bodies
// under string keys, last write wins per key.
package blob

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound marks a key with no stored object.
var ErrNotFound = errors.New("object not found")

type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// MemoryStore keeps objects in process memory; used in tests and as a
// last-resort fallback when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string][]byte{}}
}

func (m *MemoryStore) Put(ctx context.Context, key string, body []byte) error {
	buf := make([]byte, len(body))
	copy(buf, body)
	m.mu.Lock()
	m.items[key] = buf
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// Keys returns all stored keys; test helper.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys
}
