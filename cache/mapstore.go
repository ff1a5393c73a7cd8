package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MapStore is an in-process Store for development and tests.
type MapStore struct {
	mu      sync.RWMutex
	entries map[string]*mapEntry
	clock   func() time.Time
}

type mapEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMapStore creates an empty MapStore.
func NewMapStore() *MapStore {
	return &MapStore{
		entries: make(map[string]*mapEntry),
		clock:   time.Now,
	}
}

// Get retrieves a value. Expired values are removed lazily.
func (s *MapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && !s.clock().Before(entry.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	return append([]byte(nil), entry.value...), true, nil
}

// Set stores a copy of value. ttl <= 0 means no expiry.
func (s *MapStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := &mapEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.clock().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()

	return nil
}

// Delete removes a value. Idempotent.
func (s *MapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// DeletePrefix removes every key with the prefix.
func (s *MapStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored values, including expired ones not
// yet collected.
func (s *MapStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ Store = (*MapStore)(nil)
