package store

import (
	"context"
	"sync"

	"github.com/tradewire/order-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	records []model.OrderRecord
	byID    map[string]int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (s *MemoryStore) InsertOrder(_ context.Context, rec *model.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, *rec)
	s.byID[rec.ID] = len(s.records) - 1
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec := s.records[i]
	return &rec, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, limit int) ([]model.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	// Newest first.
	out := make([]model.OrderRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}
