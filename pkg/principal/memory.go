package principal

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory principal store for tests and local
// development.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal

	// GetCalls counts lookups so tests can assert re-resolution on every
	// dispatch.
	GetCalls int
}

// NewMemoryStore creates an empty in-memory principal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{principals: make(map[string]*Principal)}
}

// Get returns the principal record for the given id, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.GetCalls++
	p, ok := s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *p
	clone.Roles = append([]string(nil), p.Roles...)
	clone.DirectGrants = append([]string(nil), p.DirectGrants...)
	return &clone, nil
}

// Put stores a principal record.
func (s *MemoryStore) Put(p *Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.ID] = p
}

// Delete removes a principal record.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.principals, id)
}
