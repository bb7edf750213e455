// Package storage provides the two key-value tiers the console core persists
// state into: a durable tier that survives restarts (last selected project,
// theme preference, minimal profile cache) and an ephemeral tier cleared at
// process end. All reads and writes of either tier go through the managers;
// no other component touches the stores directly.
package storage

import "context"

// Durable storage keys
const (
	KeyLastSelectedProject = "preference.last_selected_project"
	KeyThemePreference     = "preference.theme"
	KeyMinimalProfile      = "session.minimal_profile"
)

// KeyValueStore is a minimal key-value port over both storage tiers.
// Values are opaque bytes; callers own serialization.
type KeyValueStore interface {
	// Get returns the value for key. The bool reports whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the value for key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key with the given prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Close releases any resources held by the store.
	Close() error
}
