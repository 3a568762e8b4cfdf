package vault

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory (for testing and ephemeral agents)
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uint64]Secret
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uint64]Secret)}
}

func (s *MemoryStore) Put(_ context.Context, entry *Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.GameID] = *entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, gameID uint64) (*Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *MemoryStore) Delete(_ context.Context, gameID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, gameID)
	return nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }
