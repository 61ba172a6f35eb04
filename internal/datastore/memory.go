package datastore

import (
	"context"
	"slices"
	"sync"
)

// NoopStore discards writes and always reads empty. It is used when
// durability is disabled.
type NoopStore struct{}

// NewNoopStore returns a store that keeps nothing
func NewNoopStore() *NoopStore { return &NoopStore{} }

func (*NoopStore) Load(context.Context) ([]byte, error) { return nil, ErrSlotEmpty }
func (*NoopStore) Save(context.Context, []byte) error { return nil }
func (*NoopStore) Close() error { return nil }

// MemoryStore keeps the slot in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	payload []byte
	saves   int
}

// NewMemoryStore returns an empty in-memory slot
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load returns a copy of the saved payload
func (s *MemoryStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.payload == nil {
		return nil, ErrSlotEmpty
	}
	return slices.Clone(s.payload), nil
}

// Save stores a copy of payload
func (s *MemoryStore) Save(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = slices.Clone(payload)
	if s.payload == nil {
		s.payload = []byte{}
	}
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }
