package storage

import (
	"context"
	"sync"
)

// MemoryStore provides an in-memory vector store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memRecord
}

type memRecord struct {
	vector    []float32
	metadata  map[string]string
	timestamp int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memRecord)}
}

func (m *MemoryStore) Insert(ctx context.Context, id string, vector []float32, metadata map[string]string, timestamp int64) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = memRecord{
		vector:    append([]float32(nil), vector...),
		metadata:  copyMetadata(metadata),
		timestamp: timestamp,
	}
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) ([]float32, map[string]string, int64, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[id]
	if !ok {
		return nil, nil, 0, false, nil
	}
	return append([]float32(nil), rec.vector...), copyMetadata(rec.metadata), rec.timestamp, true, nil
}

func (m *MemoryStore) Scan(ctx context.Context, fn func(id string, timestamp int64) error) error {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, rec := range m.data {
		if err := fn(id, rec.timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Count: len(m.data), Backend: "memory"}, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
