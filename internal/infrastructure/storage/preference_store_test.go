package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferenceStoreDurableIsAuthoritative(t *testing.T) {
	durable := NewMemoryStore()
	ephemeral := NewMemoryStore()
	store := NewPreferenceStore(durable, ephemeral, nil)
	ctx := context.Background()

	// Value present only in the durable tier is found and back-filled
	require.NoError(t, durable.Set(ctx, KeyThemePreference, []byte(`"dark"`)))

	value, ok, err := store.Get(ctx, KeyThemePreference)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"dark"`, string(value))

	mirrored, ok, err := ephemeral.Get(ctx, KeyThemePreference)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"dark"`, string(mirrored))
}

func TestPreferenceStoreSetWritesBothTiers(t *testing.T) {
	durable := NewMemoryStore()
	ephemeral := NewMemoryStore()
	store := NewPreferenceStore(durable, ephemeral, nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, KeyThemePreference, []byte(`"light"`)))

	for _, tier := range []KeyValueStore{durable, ephemeral} {
		value, ok, err := tier.Get(ctx, KeyThemePreference)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `"light"`, string(value))
	}
}

func TestPreferenceStoreDeleteRemovesBothTiers(t *testing.T) {
	durable := NewMemoryStore()
	ephemeral := NewMemoryStore()
	store := NewPreferenceStore(durable, ephemeral, nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, KeyThemePreference, []byte(`"dark"`)))
	require.NoError(t, store.Delete(ctx, KeyThemePreference))

	_, ok, err := store.Get(ctx, KeyThemePreference)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = ephemeral.Get(ctx, KeyThemePreference)
	assert.False(t, ok)
}

func TestPreferenceStoreMiss(t *testing.T) {
	store := NewPreferenceStore(NewMemoryStore(), NewMemoryStore(), nil)

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := []byte("original")
	require.NoError(t, store.Set(ctx, "k", original))

	// Mutating the caller's slice must not affect the stored value
	original[0] = 'X'

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "original", string(value))

	// Mutating the returned slice must not affect the stored value either
	value[0] = 'Y'
	again, _, _ := store.Get(ctx, "k")
	assert.Equal(t, "original", string(again))
}
