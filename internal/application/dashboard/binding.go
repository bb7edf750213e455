// Package dashboard binds cached read models to the active session and scope.
// A Binding builds cache keys from (logicalName, tenantID, projectID) and
// exposes the read contract presentation code renders from:
// data, loading, refreshing, error, last-updated, and an explicit refresh.
package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	scopeapp "github.com/erp/console/internal/application/scope"
	sessionapp "github.com/erp/console/internal/application/session"
	"github.com/erp/console/internal/domain/scope"
	"github.com/erp/console/internal/domain/session"
	"github.com/erp/console/internal/infrastructure/cache"
	"github.com/erp/console/internal/infrastructure/logger"
)

// ScopedLoader fetches a read model for the given query context
type ScopedLoader[T any] func(ctx context.Context, qc scope.QueryContext) (T, error)

// Snapshot is the read model state handed to presentation code.
// Loading is true only while a first-ever fetch for the current key runs;
// Refreshing is true only during an explicitly forced refresh. The two let
// the UI distinguish "nothing to show yet" from "showing stale data while
// refreshing".
type Snapshot[T any] struct {
	Data        *T
	Loading     bool
	Refreshing  bool
	Err         error
	LastUpdated time.Time
}

// BindingConfig holds configuration for a dashboard binding
type BindingConfig struct {
	// LoadTimeout bounds a background first load (default: 30s)
	LoadTimeout time.Duration
}

// DefaultBindingConfig returns default configuration
func DefaultBindingConfig() BindingConfig {
	return BindingConfig{LoadTimeout: 30 * time.Second}
}

// Binding exposes one logical read model under the active (tenant, project)
// context
type Binding[T any] struct {
	logicalName string
	cache       *cache.KeyedTTLCache[T]
	loader      ScopedLoader[T]
	sessions    *sessionapp.Manager
	scopes      *scopeapp.Manager
	config      BindingConfig
	logger      *zap.Logger

	mu           sync.Mutex
	loading      map[string]bool
	refreshing   map[string]bool
	firstLoadErr map[string]error
}

// NewBinding creates a binding for one logical read model
func NewBinding[T any](
	logicalName string,
	c *cache.KeyedTTLCache[T],
	loader ScopedLoader[T],
	sessions *sessionapp.Manager,
	scopes *scopeapp.Manager,
	config BindingConfig,
	logger *zap.Logger,
) *Binding[T] {
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultBindingConfig().LoadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binding[T]{
		logicalName: logicalName,
		cache:       c,
		loader:      loader,
		sessions:    sessions,
		scopes:      scopes,
		config:      config,
		logger:      logger,
		loading:      make(map[string]bool),
		refreshing:   make(map[string]bool),
		firstLoadErr: make(map[string]error),
	}
}

// Read returns the current snapshot without blocking. A cache miss starts one
// background first load and reports Loading; a stale hit is served as data
// while the cache refreshes it behind the scenes.
func (b *Binding[T]) Read(ctx context.Context) Snapshot[T] {
	key, err := b.currentKey()
	if err != nil {
		return Snapshot[T]{Err: err}
	}
	k := key.String()

	if _, ok := b.cache.Peek(key); ok {
		// Hit (fresh or stale): Get returns without blocking on either path.
		entry, err := b.cache.Get(ctx, key, b.scopedLoader(key), cache.GetOptions{})
		if err != nil {
			return Snapshot[T]{Err: err, Refreshing: b.isRefreshing(k)}
		}
		return b.snapshotFromEntry(entry, k)
	}

	b.mu.Lock()
	started := false
	if !b.loading[k] {
		b.loading[k] = true
		started = true
	}
	// A failed first load is surfaced instead of reporting Loading forever;
	// the retry just started clears it on success.
	lastErr := b.firstLoadErr[k]
	b.mu.Unlock()

	if started {
		go b.firstLoad(key)
	}
	return Snapshot[T]{Loading: true, Err: lastErr}
}

// Refresh forces a fetch and blocks until it completes. Loader failure with a
// previously seen payload returns that payload annotated with the error.
func (b *Binding[T]) Refresh(ctx context.Context) Snapshot[T] {
	key, err := b.currentKey()
	if err != nil {
		return Snapshot[T]{Err: err}
	}
	k := key.String()

	b.mu.Lock()
	b.refreshing[k] = true
	b.mu.Unlock()

	entry, err := b.cache.Get(ctx, key, b.scopedLoader(key), cache.GetOptions{Force: true})

	// Clear the flag before building the snapshot so the caller sees the
	// completed state; concurrent Reads saw Refreshing while Get ran.
	b.mu.Lock()
	delete(b.refreshing, k)
	if err == nil {
		delete(b.firstLoadErr, k)
	}
	b.mu.Unlock()

	if err != nil {
		return Snapshot[T]{Err: err}
	}
	return b.snapshotFromEntry(entry, k)
}

// LogicalName returns the logical cache name this binding serves
func (b *Binding[T]) LogicalName() string {
	return b.logicalName
}

// currentKey builds the cache key for the active session and scope
func (b *Binding[T]) currentKey() (cache.Key, error) {
	profile, ok := b.sessions.Profile()
	if !ok || b.sessions.Status() != session.StatusAuthenticated {
		return cache.Key{}, session.ErrNotAuthenticated
	}
	return cache.NewKey(b.logicalName, profile.TenantID, b.scopes.Selection().Segment()), nil
}

// scopedLoader captures the query context at schedule time. The cache only
// commits the result while the context that scheduled it is still active.
func (b *Binding[T]) scopedLoader(key cache.Key) cache.Loader[T] {
	qc := b.scopes.QueryContext()
	return func(ctx context.Context) (T, error) {
		return b.loader(ctx, qc)
	}
}

func (b *Binding[T]) firstLoad(key cache.Key) {
	k := key.String()
	defer func() {
		b.mu.Lock()
		delete(b.loading, k)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.config.LoadTimeout)
	defer cancel()
	// Detached from the caller, so carry the binding's logger ourselves for
	// the cache's log paths.
	ctx = logger.WithContext(ctx, b.logger.With(zap.String("logical_name", b.logicalName)))

	_, err := b.cache.Get(ctx, key, b.scopedLoader(key), cache.GetOptions{})

	b.mu.Lock()
	if err != nil {
		b.firstLoadErr[k] = err
	} else {
		delete(b.firstLoadErr, k)
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("First load failed",
			zap.String("logical_name", b.logicalName),
			zap.String("key", k),
			zap.Error(err))
	}
}

func (b *Binding[T]) snapshotFromEntry(entry *cache.Entry[T], k string) Snapshot[T] {
	payload := entry.Payload
	return Snapshot[T]{
		Data:        &payload,
		Err:         entry.LastError,
		LastUpdated: entry.FetchedAt,
		Refreshing:  b.isRefreshing(k),
	}
}

func (b *Binding[T]) isRefreshing(k string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshing[k]
}
