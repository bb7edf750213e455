package cache

import (
	"context"
	"encoding/json"
	"time"
)

// StoredEntry is the wire form of a cache entry in the ephemeral tier
type StoredEntry struct {
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// EntryStore is the ephemeral persistence tier behind the in-memory cache.
// It lets a restarted console (or a sibling console sharing Redis) warm from
// recently fetched entries instead of refetching everything.
type EntryStore interface {
	// Get returns the stored entry, or nil on a miss.
	Get(ctx context.Context, key string) (*StoredEntry, error)

	// Set stores the entry with the given TTL.
	Set(ctx context.Context, key string, entry *StoredEntry, ttl time.Duration) error

	// Delete removes one entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every entry whose key starts with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Close releases any resources held by the store.
	Close() error
}
