package tokenstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps tokens in a process-local map.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]string)}
}

// Read returns the token stored under name.
func (m *MemoryStore) Read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.tokens[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return value, nil
}

// Write stores value under name.
func (m *MemoryStore) Write(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[name] = value
	return nil
}
