package schemacache

import (
	"context"
	"sync/atomic"
	"time"
)

// MemoryStore keeps the entry in process. Writes are single pointer swaps.
type MemoryStore struct {
	entry atomic.Pointer[Entry]
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (*Entry, error) {
	if entry := s.entry.Load(); entry != nil {
		return entry, nil
	}
	return nil, ErrNotCached
}

// Save stores entry. Expiry is checked by the cache against its TTL.
func (s *MemoryStore) Save(_ context.Context, entry *Entry, _ time.Duration) error {
	s.entry.Store(entry)
	return nil
}

func (s *MemoryStore) Delete(context.Context) error {
	s.entry.Store(nil)
	return nil
}

func (s *MemoryStore) Name() string { return "memory" }
