package pending

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and local development.
// It intentionally has no durability; production uses PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Transaction)}
}

func (s *MemoryStore) Save(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	s.items[tx.ClientTransactionID] = tx
	return nil
}

func (s *MemoryStore) Load(_ context.Context, clientTransactionID string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.items[clientTransactionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := tx
	return &out, nil
}

func (s *MemoryStore) Clear(_ context.Context, clientTransactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, clientTransactionID)
	return nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, tx := range s.items {
		if tx.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}
