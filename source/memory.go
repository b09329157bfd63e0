package source

import (
	"context"
	"fmt"
	"sync"
)

// MemorySource is an in-memory Source implementation for testing.
// Thread-safe for concurrent reads and writes.
type MemorySource struct {
	mu        sync.RWMutex
	resources map[string][]byte
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		resources: make(map[string][]byte),
	}
}

// Put registers a resource body under path.
func (m *MemorySource) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]byte, len(data))
	copy(copied, data)
	m.resources[path] = copied
}

// Fetch returns a copy of the registered resource.
func (m *MemorySource) Fetch(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.resources[path]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}

	copied := make([]byte, len(data))
	copy(copied, data)
	return Decompress(path, copied)
}
