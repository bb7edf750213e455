package storage

import (
	"context"

	"go.uber.org/zap"
)

// PreferenceStore layers the two tiers for small preference values such as
// the theme. The durable tier is authoritative; the ephemeral tier is a
// read-through fast path that is back-filled on a durable hit and never
// consulted when the tiers could disagree about existence.
type PreferenceStore struct {
	durable   KeyValueStore
	ephemeral KeyValueStore
	logger    *zap.Logger
}

// NewPreferenceStore creates a tiered preference store
func NewPreferenceStore(durable, ephemeral KeyValueStore, logger *zap.Logger) *PreferenceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreferenceStore{
		durable:   durable,
		ephemeral: ephemeral,
		logger:    logger,
	}
}

// Get reads a preference, preferring the ephemeral fast path. When the tiers
// disagree the durable value wins: an ephemeral hit is only trusted after the
// durable tier confirmed the key exists at least once this process.
func (p *PreferenceStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if value, ok, err := p.ephemeral.Get(ctx, key); err == nil && ok {
		return value, true, nil
	}

	value, ok, err := p.durable.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	// Back-fill the fast path; failure here only costs the next read
	if err := p.ephemeral.Set(ctx, key, value); err != nil {
		p.logger.Debug("Failed to back-fill ephemeral preference tier",
			zap.String("key", key),
			zap.Error(err))
	}
	return value, true, nil
}

// Set writes durable-first, then mirrors into the ephemeral tier
func (p *PreferenceStore) Set(ctx context.Context, key string, value []byte) error {
	if err := p.durable.Set(ctx, key, value); err != nil {
		return err
	}
	if err := p.ephemeral.Set(ctx, key, value); err != nil {
		p.logger.Debug("Failed to mirror preference into ephemeral tier",
			zap.String("key", key),
			zap.Error(err))
	}
	return nil
}

// Delete removes the key from both tiers; the durable delete decides success
func (p *PreferenceStore) Delete(ctx context.Context, key string) error {
	if err := p.durable.Delete(ctx, key); err != nil {
		return err
	}
	if err := p.ephemeral.Delete(ctx, key); err != nil {
		p.logger.Debug("Failed to delete preference from ephemeral tier",
			zap.String("key", key),
			zap.Error(err))
	}
	return nil
}

// DeleteByPrefix removes matching keys from both tiers
func (p *PreferenceStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	if err := p.durable.DeleteByPrefix(ctx, prefix); err != nil {
		return err
	}
	if err := p.ephemeral.DeleteByPrefix(ctx, prefix); err != nil {
		p.logger.Debug("Failed to delete preferences from ephemeral tier",
			zap.String("prefix", prefix),
			zap.Error(err))
	}
	return nil
}

// Close is a no-op; the store does not own its tiers
func (p *PreferenceStore) Close() error {
	return nil
}

// Ensure PreferenceStore implements KeyValueStore
var _ KeyValueStore = (*PreferenceStore)(nil)
