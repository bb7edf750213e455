package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/logger"
)

// ErrLoaderFailed is surfaced when a loader fails and no previous entry
// exists to fall back to. With a previous entry the failure is recovered
// locally (stale-while-error) and only annotated on the entry.
var ErrLoaderFailed = shared.NewDomainError("LOADER_FAILED", "Failed to load data")

// Loader fetches the payload for one cache key
type Loader[T any] func(ctx context.Context) (T, error)

// Entry is one cached payload with its fetch metadata
type Entry[T any] struct {
	Key       Key
	Payload   T
	FetchedAt time.Time
	// LastError is set when the most recent refresh attempt failed and the
	// entry is being served stale.
	LastError error
}

// Age returns how long ago the entry was fetched
func (e *Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Config holds cache configuration with documented defaults
type Config struct {
	// TTL is the freshness window of an entry (default: 5m)
	TTL time.Duration
	// MaxStaleAge is how long a stale entry is retained for stale-while-error
	// before the cleanup pass evicts it (default: 1h)
	MaxStaleAge time.Duration
	// RefreshTimeout bounds a background refresh (default: 30s)
	RefreshTimeout time.Duration
	// CleanupInterval is how often expired entries are evicted (default: 30s)
	CleanupInterval time.Duration
	// Enabled toggles caching entirely; when false every Get invokes the
	// loader directly (default: true)
	Enabled bool
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		TTL:             5 * time.Minute,
		MaxStaleAge:     time.Hour,
		RefreshTimeout:  30 * time.Second,
		CleanupInterval: 30 * time.Second,
		Enabled:         true,
	}
}

// GetOptions controls a single Get call
type GetOptions struct {
	// Force bypasses the freshness check and blocks on a refresh
	Force bool
}

// Metrics receives cache events. Implementations must be safe for concurrent
// use; a nil Metrics disables reporting.
type Metrics interface {
	Hit(ctx context.Context, logicalName string)
	Miss(ctx context.Context, logicalName string)
	StaleHit(ctx context.Context, logicalName string)
	LoaderFailure(ctx context.Context, logicalName string)
	// LoaderDuration records one loader invocation and its outcome.
	LoaderDuration(ctx context.Context, logicalName string, d time.Duration, success bool)
}

// KeyedTTLCache is a generic keyed read cache with TTL staleness, fetch
// deduplication, and stale-while-error fallback.
//
// Per key the fetch state machine is Idle -> Fetching -> Idle; the
// singleflight group is the in-flight guard that ensures at most one loader
// invocation per key at any time, no matter how many callers arrive.
type KeyedTTLCache[T any] struct {
	config  Config
	entries sync.Map // map[string]*Entry[T]
	group   singleflight.Group
	store   EntryStore // optional ephemeral tier, may be nil
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time

	// gens holds one generation counter per key. Invalidating a key bumps
	// its counter; a fetch that started under an older generation discards
	// its result instead of committing it, so a slow response from a
	// superseded tenant/project context never lands in the cache. Counters
	// are per key so invalidating one key never discards an in-flight fetch
	// for another.
	gens sync.Map // map[string]*atomic.Int64

	stopCh  chan struct{}
	stopped atomic.Bool

	hits      atomic.Int64
	misses    atomic.Int64
	staleHits atomic.Int64
}

// Option is a functional option for configuring the cache
type Option[T any] func(*KeyedTTLCache[T])

// WithConfig sets the cache configuration
func WithConfig[T any](config Config) Option[T] {
	return func(c *KeyedTTLCache[T]) {
		c.config = config
	}
}

// WithLogger sets the logger
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(c *KeyedTTLCache[T]) {
		c.logger = logger
	}
}

// WithEntryStore attaches the ephemeral persistence tier
func WithEntryStore[T any](store EntryStore) Option[T] {
	return func(c *KeyedTTLCache[T]) {
		c.store = store
	}
}

// WithMetrics attaches a metrics sink
func WithMetrics[T any](metrics Metrics) Option[T] {
	return func(c *KeyedTTLCache[T]) {
		c.metrics = metrics
	}
}

// WithClock overrides the time source (tests)
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *KeyedTTLCache[T]) {
		c.now = now
	}
}

// New creates a keyed TTL cache and starts its cleanup goroutine
func New[T any](opts ...Option[T]) *KeyedTTLCache[T] {
	c := &KeyedTTLCache[T]{
		config: DefaultConfig(),
		logger: zap.NewNop(),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Zero durations fall back to defaults so a partially filled Config
	// cannot disable freshness or stall the cleanup ticker.
	defaults := DefaultConfig()
	if c.config.TTL <= 0 {
		c.config.TTL = defaults.TTL
	}
	if c.config.MaxStaleAge <= 0 {
		c.config.MaxStaleAge = defaults.MaxStaleAge
	}
	if c.config.RefreshTimeout <= 0 {
		c.config.RefreshTimeout = defaults.RefreshTimeout
	}
	if c.config.CleanupInterval <= 0 {
		c.config.CleanupInterval = defaults.CleanupInterval
	}

	go c.cleanupExpired()

	return c
}

// Get returns the entry for key, invoking loader as needed.
//
//   - fresh entry, no force: returned immediately, loader not invoked
//   - stale entry, no force: returned immediately; exactly one background
//     refresh is started for the key
//   - miss or force: blocks on a deduplicated fetch; on loader failure the
//     previous entry (if any) is returned annotated with the error, otherwise
//     ErrLoaderFailed is returned
func (c *KeyedTTLCache[T]) Get(ctx context.Context, key Key, loader Loader[T], opts GetOptions) (*Entry[T], error) {
	if !c.config.Enabled {
		payload, err := loader(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoaderFailed, err)
		}
		return &Entry[T]{Key: key, Payload: payload, FetchedAt: c.now()}, nil
	}

	k := key.String()
	existing := c.lookup(ctx, k)

	if !opts.Force && existing != nil {
		if c.isFresh(existing) {
			c.hits.Add(1)
			if c.metrics != nil {
				c.metrics.Hit(ctx, key.LogicalName)
			}
			return existing, nil
		}

		// Stale: serve the old payload now, refresh in the background.
		c.staleHits.Add(1)
		if c.metrics != nil {
			c.metrics.StaleHit(ctx, key.LogicalName)
		}
		c.refreshInBackground(key, loader)
		return existing, nil
	}

	if existing == nil {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.Miss(ctx, key.LogicalName)
		}
	}

	entry, err := c.fetch(ctx, key, loader)
	if err == nil {
		return entry, nil
	}

	if c.metrics != nil {
		c.metrics.LoaderFailure(ctx, key.LogicalName)
	}

	// Stale-while-error: keep serving the previous payload, annotated.
	if existing != nil {
		annotated := *existing
		annotated.LastError = err
		c.entries.Store(k, &annotated)
		logger.FromContextOr(ctx, c.logger).Warn("Cache refresh failed, serving stale entry",
			zap.String("key", k),
			zap.Duration("age", existing.Age(c.now())),
			zap.Error(err))
		return &annotated, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrLoaderFailed, err)
}

// Peek returns the current entry without triggering any fetch
func (c *KeyedTTLCache[T]) Peek(key Key) (*Entry[T], bool) {
	if value, ok := c.entries.Load(key.String()); ok {
		return value.(*Entry[T]), true
	}
	return nil, false
}

// Invalidate removes one entry and discards any in-flight result for it
func (c *KeyedTTLCache[T]) Invalidate(ctx context.Context, key Key) {
	k := key.String()
	c.entries.Delete(k)
	c.gen(k).Add(1)
	if c.store != nil {
		if err := c.store.Delete(ctx, k); err != nil {
			c.logger.Warn("Failed to delete entry from ephemeral tier",
				zap.String("key", k),
				zap.Error(err))
		}
	}
}

// InvalidateByPrefix removes every entry whose composite key starts with
// prefix. Used on logout and on tenant or project switches.
func (c *KeyedTTLCache[T]) InvalidateByPrefix(ctx context.Context, prefix string) {
	removed := 0
	c.entries.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	// In-flight fetches register their generation before loading, so ranging
	// over gens also covers keys with no committed entry yet.
	c.gens.Range(func(key, value any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			value.(*atomic.Int64).Add(1)
		}
		return true
	})

	if c.store != nil {
		if err := c.store.DeleteByPrefix(ctx, prefix); err != nil {
			c.logger.Warn("Failed to delete entries from ephemeral tier",
				zap.String("prefix", prefix),
				zap.Error(err))
		}
	}

	c.logger.Debug("Invalidated cache entries",
		zap.String("prefix", prefix),
		zap.Int("removed", removed))
}

// InvalidateAll removes every entry
func (c *KeyedTTLCache[T]) InvalidateAll(ctx context.Context) {
	c.InvalidateByPrefix(ctx, KeyPrefix)
}

// Stats returns hit, miss, and stale-hit counts
func (c *KeyedTTLCache[T]) Stats() (hits, misses, staleHits int64) {
	return c.hits.Load(), c.misses.Load(), c.staleHits.Load()
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *KeyedTTLCache[T]) Close() error {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
	return nil
}

// lookup checks memory first, then adopts from the ephemeral tier on a miss.
// An adopted entry may already be stale; the normal stale path handles it.
func (c *KeyedTTLCache[T]) lookup(ctx context.Context, k string) *Entry[T] {
	if value, ok := c.entries.Load(k); ok {
		return value.(*Entry[T])
	}

	if c.store == nil {
		return nil
	}

	stored, err := c.store.Get(ctx, k)
	if err != nil {
		c.logger.Debug("Ephemeral tier read failed",
			zap.String("key", k),
			zap.Error(err))
		return nil
	}
	if stored == nil {
		return nil
	}

	var payload T
	if err := json.Unmarshal(stored.Payload, &payload); err != nil {
		c.logger.Warn("Discarding undecodable entry from ephemeral tier",
			zap.String("key", k),
			zap.Error(err))
		return nil
	}

	entry := &Entry[T]{Payload: payload, FetchedAt: stored.FetchedAt}
	c.entries.Store(k, entry)
	return entry
}

func (c *KeyedTTLCache[T]) isFresh(e *Entry[T]) bool {
	return e.Age(c.now()) < c.config.TTL
}

// gen returns the generation counter for a key, registering it on first use
func (c *KeyedTTLCache[T]) gen(k string) *atomic.Int64 {
	if value, ok := c.gens.Load(k); ok {
		return value.(*atomic.Int64)
	}
	value, _ := c.gens.LoadOrStore(k, new(atomic.Int64))
	return value.(*atomic.Int64)
}

// fetch runs the loader behind the singleflight guard and commits the result
// unless an invalidation of this key happened while the fetch was in flight.
func (c *KeyedTTLCache[T]) fetch(ctx context.Context, key Key, loader Loader[T]) (*Entry[T], error) {
	k := key.String()

	value, err, _ := c.group.Do(k, func() (any, error) {
		gen := c.gen(k)
		startGen := gen.Load()

		began := time.Now()
		payload, err := loader(ctx)
		if c.metrics != nil {
			c.metrics.LoaderDuration(ctx, key.LogicalName, time.Since(began), err == nil)
		}
		if err != nil {
			return nil, err
		}

		entry := &Entry[T]{Key: key, Payload: payload, FetchedAt: c.now()}

		if gen.Load() != startGen {
			// The key was invalidated while this fetch was in flight;
			// hand the result to the waiting callers but do not commit it.
			logger.FromContextOr(ctx, c.logger).Debug("Discarding fetch result from superseded context",
				zap.String("key", k))
			return entry, nil
		}

		c.commit(ctx, k, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Entry[T]), nil
}

// commit stores the entry in memory and writes through to the ephemeral tier
func (c *KeyedTTLCache[T]) commit(ctx context.Context, k string, entry *Entry[T]) {
	c.entries.Store(k, entry)

	if c.store == nil {
		return
	}
	raw, err := json.Marshal(entry.Payload)
	if err != nil {
		c.logger.Warn("Failed to encode entry for ephemeral tier",
			zap.String("key", k),
			zap.Error(err))
		return
	}
	stored := &StoredEntry{Payload: raw, FetchedAt: entry.FetchedAt}
	if err := c.store.Set(ctx, k, stored, c.config.TTL+c.config.MaxStaleAge); err != nil {
		c.logger.Warn("Failed to write entry to ephemeral tier",
			zap.String("key", k),
			zap.Error(err))
	}
}

// refreshInBackground starts one detached refresh for the key. Concurrent
// callers for the same stale key join the same singleflight, so the loader
// still runs at most once.
func (c *KeyedTTLCache[T]) refreshInBackground(key Key, loader Loader[T]) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RefreshTimeout)
		defer cancel()

		if _, err := c.fetch(ctx, key, loader); err != nil {
			k := key.String()
			if value, ok := c.entries.Load(k); ok {
				annotated := *(value.(*Entry[T]))
				annotated.LastError = err
				c.entries.Store(k, &annotated)
			}
			c.logger.Warn("Background cache refresh failed",
				zap.String("key", k),
				zap.Error(err))
		}
	}()
}

// cleanupExpired evicts entries that have outlived stale-while-error retention
func (c *KeyedTTLCache[T]) cleanupExpired() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			limit := c.config.TTL + c.config.MaxStaleAge
			now := c.now()
			removed := 0
			c.entries.Range(func(key, value any) bool {
				if value.(*Entry[T]).Age(now) > limit {
					c.entries.Delete(key)
					removed++
				}
				return true
			})
			if removed > 0 {
				c.logger.Debug("Evicted expired cache entries", zap.Int("removed", removed))
			}
		}
	}
}
