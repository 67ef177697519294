package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and as a stand-in when no
// durable backend is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // collection -> id -> doc
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

// Put inserts or replaces the document under (collection, id).
func (s *MemoryStore) Put(_ context.Context, collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.data[collection]
	if !ok {
		col = make(map[string][]byte)
		s.data[collection] = col
	}
	col[id] = append([]byte(nil), doc...)
	return nil
}

// Get returns the document under (collection, id), or (nil, nil) when absent.
func (s *MemoryStore) Get(_ context.Context, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[collection][id]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), doc...), nil
}

// List returns every document in the collection.
func (s *MemoryStore) List(_ context.Context, collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([][]byte, 0, len(s.data[collection]))
	for _, doc := range s.data[collection] {
		docs = append(docs, append([]byte(nil), doc...))
	}
	return docs, nil
}

// Delete removes the document under (collection, id).
func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], id)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Compile-time assertion that both implementations satisfy Store.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
