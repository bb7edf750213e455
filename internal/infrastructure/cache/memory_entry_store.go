package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryEntryStore is an in-memory EntryStore for single-process deployments
// and tests. Expiry is checked lazily on read.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryStoredEntry
}

type memoryStoredEntry struct {
	entry     StoredEntry
	expiresAt time.Time
}

// NewMemoryEntryStore creates an empty in-memory entry store
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[string]memoryStoredEntry)}
}

// Get returns the stored entry, or nil on a miss or after expiry
func (s *MemoryEntryStore) Get(_ context.Context, key string) (*StoredEntry, error) {
	s.mu.RLock()
	stored, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if time.Now().After(stored.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, nil
	}

	out := stored.entry
	return &out, nil
}

// Set stores the entry with the given TTL
func (s *MemoryEntryStore) Set(_ context.Context, key string, entry *StoredEntry, ttl time.Duration) error {
	if entry == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryStoredEntry{
		entry:     *entry,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes one entry
func (s *MemoryEntryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix
func (s *MemoryEntryStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryEntryStore) Close() error {
	return nil
}

// Ensure MemoryEntryStore implements EntryStore
var _ EntryStore = (*MemoryEntryStore)(nil)
