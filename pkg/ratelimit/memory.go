package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	window    Window
	expiresAt time.Time
}

// MemoryStore is an in-memory window store for tests and single-node
// development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time

	// FailAll makes every operation return this error, for fail-open
	// tests.
	FailAll error
}

// NewMemoryStore creates an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the store's time source. Tests only.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Fetch returns the window for a key and whether one exists.
func (s *MemoryStore) Fetch(ctx context.Context, key string) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAll != nil {
		return Window{}, false, s.FailAll
	}

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		return Window{}, false, nil
	}
	return entry.window, true, nil
}

// Save writes the window with the given TTL.
func (s *MemoryStore) Save(ctx context.Context, key string, w Window, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAll != nil {
		return s.FailAll
	}

	s.entries[key] = memoryEntry{window: w, expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete removes the window for a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAll != nil {
		return s.FailAll
	}

	delete(s.entries, key)
	return nil
}

// Sweep removes expired windows and returns the count removed.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAll != nil {
		return 0, s.FailAll
	}

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
