package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend implements an in-memory backend. It is volatile and intended
// for testing and for running without persistence.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend creates a new MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string][]byte),
	}
}

// Load implements Backend.
func (b *MemoryBackend) Load(ctx context.Context, slot string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[slot]
	if !ok {
		return nil, ErrDoesNotExist
	}
	return rec, nil
}

// Save implements Backend. The stored slice is never mutated after it has
// been assigned, readers holding the previous slice are not affected.
func (b *MemoryBackend) Save(ctx context.Context, slot string, rec []byte) error {
	cp := make([]byte, len(rec))
	copy(cp, rec)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.records[slot] = cp
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(ctx context.Context, slot string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[slot]; !ok {
		return ErrDoesNotExist
	}
	delete(b.records, slot)
	return nil
}

// Slots implements Backend.
func (b *MemoryBackend) Slots(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.records))
	for k := range b.records {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Ping implements Backend.
func (b *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	return nil
}
