package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingLoader returns a loader that counts invocations and returns the
// given payload, optionally blocking until release is closed
func countingLoader(calls *atomic.Int64, payload string, err error) Loader[string] {
	return func(ctx context.Context) (string, error) {
		calls.Add(1)
		if err != nil {
			return "", err
		}
		return payload, nil
	}
}

func testKey(logical string) Key {
	return NewKey(logical, uuid.MustParse("11111111-1111-1111-1111-111111111111"), "all")
}

func newTestCache(clock *fakeClock, opts ...Option[string]) *KeyedTTLCache[string] {
	base := []Option[string]{
		WithConfig[string](Config{
			TTL:             time.Minute,
			MaxStaleAge:     time.Hour,
			RefreshTimeout:  time.Second,
			CleanupInterval: time.Hour,
			Enabled:         true,
		}),
		WithClock[string](clock.Now),
	}
	return New(append(base, opts...)...)
}

func TestGetMissThenFreshHit(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	var calls atomic.Int64
	key := testKey("dashboard.sales_summary")

	entry, err := c.Get(context.Background(), key, countingLoader(&calls, "v1", nil), GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v1", entry.Payload)
	assert.Equal(t, int64(1), calls.Load())

	// Within TTL the loader must not run again
	entry, err = c.Get(context.Background(), key, countingLoader(&calls, "v2", nil), GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v1", entry.Payload)
	assert.Equal(t, int64(1), calls.Load())

	hits, misses, staleHits := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(0), staleHits)
}

func TestConcurrentGetsInvokeLoaderOnce(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	var calls atomic.Int64
	release := make(chan struct{})
	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	key := testKey("dashboard.recent_orders")
	const workers = 20

	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := c.Get(context.Background(), key, loader, GetOptions{})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = entry.Payload
		}(i)
	}

	// Give the goroutines time to pile onto the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestStaleEntryServedImmediatelyAndRefreshed(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	var calls atomic.Int64
	key := testKey("dashboard.sales_summary")

	_, err := c.Get(context.Background(), key, countingLoader(&calls, "old", nil), GetOptions{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute) // past TTL, within MaxStaleAge

	// The stale payload comes back without blocking on the refresh
	entry, err := c.Get(context.Background(), key, countingLoader(&calls, "new", nil), GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "old", entry.Payload)

	_, _, staleHits := c.Stats()
	assert.Equal(t, int64(1), staleHits)

	// The background refresh commits the new payload
	require.Eventually(t, func() bool {
		e, ok := c.Peek(key)
		return ok && e.Payload == "new"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), calls.Load())
}

func TestForceBypassesFreshness(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	var calls atomic.Int64
	key := testKey("dashboard.branches")

	_, err := c.Get(context.Background(), key, countingLoader(&calls, "v1", nil), GetOptions{})
	require.NoError(t, err)

	entry, err := c.Get(context.Background(), key, countingLoader(&calls, "v2", nil), GetOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "v2", entry.Payload)
	assert.Equal(t, int64(2), calls.Load())
}

func TestLoaderFailureWithoutPreviousEntry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	var calls atomic.Int64
	boom := errors.New("backend unreachable")

	_, err := c.Get(context.Background(), testKey("dashboard.petty_cash"),
		countingLoader(&calls, "", boom), GetOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoaderFailed)
	assert.ErrorIs(t, err, boom)
}

func TestStaleWhileErrorServesPreviousPayload(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	var calls atomic.Int64
	key := testKey("dashboard.stock_warnings")

	_, err := c.Get(context.Background(), key, countingLoader(&calls, "good", nil), GetOptions{})
	require.NoError(t, err)

	boom := errors.New("backend unreachable")
	entry, err := c.Get(context.Background(), key, countingLoader(&calls, "", boom), GetOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "good", entry.Payload)
	require.Error(t, entry.LastError)
	assert.ErrorIs(t, entry.LastError, boom)
}

func TestInvalidationDiscardsInFlightResult(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	key := testKey("dashboard.sales_summary")
	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "from-old-context", nil
	}

	type result struct {
		entry *Entry[string]
		err   error
	}
	done := make(chan result, 1)
	go func() {
		entry, err := c.Get(context.Background(), key, loader, GetOptions{})
		done <- result{entry, err}
	}()

	<-started
	// The context switches while the fetch is in flight
	c.Invalidate(context.Background(), key)
	close(release)

	// The blocked caller still receives the payload it asked for,
	// but the cache does not keep it
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "from-old-context", res.entry.Payload)

	_, ok := c.Peek(key)
	assert.False(t, ok, "stale-context result must not be committed")
}

func TestInvalidateByPrefixRemovesOnlyMatchingEntries(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	tenantA := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	tenantB := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	keyA := NewKey("dashboard.sales_summary", tenantA, "all")
	keyB := NewKey("dashboard.sales_summary", tenantB, "all")

	var calls atomic.Int64
	_, err := c.Get(context.Background(), keyA, countingLoader(&calls, "a", nil), GetOptions{})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), keyB, countingLoader(&calls, "b", nil), GetOptions{})
	require.NoError(t, err)

	c.InvalidateByPrefix(context.Background(), PrefixForLogical("dashboard.sales_summary")+tenantA.String())

	_, ok := c.Peek(keyA)
	assert.False(t, ok)
	_, ok = c.Peek(keyB)
	assert.True(t, ok)
}

func TestInvalidateOtherContextsKeepsActivePair(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	tenant := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	otherTenant := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	project := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	active := NewKey("dashboard.sales_summary", tenant, project.String())
	otherProject := NewKey("dashboard.sales_summary", tenant, "all")
	foreignTenant := NewKey("dashboard.sales_summary", otherTenant, project.String())

	var calls atomic.Int64
	for _, k := range []Key{active, otherProject, foreignTenant} {
		_, err := c.Get(context.Background(), k, countingLoader(&calls, "x", nil), GetOptions{})
		require.NoError(t, err)
	}

	c.InvalidateOtherContexts(context.Background(), tenant, project.String())

	_, ok := c.Peek(active)
	assert.True(t, ok, "entries of the active context survive")
	_, ok = c.Peek(otherProject)
	assert.False(t, ok)
	_, ok = c.Peek(foreignTenant)
	assert.False(t, ok)
}

func TestDisabledCacheInvokesLoaderEveryTime(t *testing.T) {
	clock := newFakeClock()
	c := New(
		WithConfig[string](Config{Enabled: false}),
		WithClock[string](clock.Now),
	)
	defer c.Close()

	var calls atomic.Int64
	key := testKey("dashboard.sales_summary")

	for i := 0; i < 3; i++ {
		entry, err := c.Get(context.Background(), key, countingLoader(&calls, "direct", nil), GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, "direct", entry.Payload)
	}
	assert.Equal(t, int64(3), calls.Load())

	_, ok := c.Peek(key)
	assert.False(t, ok)
}

func TestEntryStoreWriteThroughAndAdoption(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryEntryStore()
	defer store.Close()

	c1 := newTestCache(clock, WithEntryStore[string](store))
	var calls atomic.Int64
	key := testKey("dashboard.branches")

	_, err := c1.Get(context.Background(), key, countingLoader(&calls, "persisted", nil), GetOptions{})
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	// A fresh cache over the same tier adopts the entry without a fetch
	c2 := newTestCache(clock, WithEntryStore[string](store))
	defer c2.Close()

	entry, err := c2.Get(context.Background(), key, countingLoader(&calls, "reloaded", nil), GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "persisted", entry.Payload)
	assert.Equal(t, int64(1), calls.Load())
}

func TestCleanupEvictsEntriesPastStaleRetention(t *testing.T) {
	clock := newFakeClock()
	c := New(
		WithConfig[string](Config{
			TTL:             time.Minute,
			MaxStaleAge:     time.Minute,
			RefreshTimeout:  time.Second,
			CleanupInterval: 10 * time.Millisecond,
			Enabled:         true,
		}),
		WithClock[string](clock.Now),
	)
	defer c.Close()

	var calls atomic.Int64
	key := testKey("dashboard.sales_summary")
	_, err := c.Get(context.Background(), key, countingLoader(&calls, "v", nil), GetOptions{})
	require.NoError(t, err)

	clock.Advance(3 * time.Minute) // past TTL + MaxStaleAge

	require.Eventually(t, func() bool {
		_, ok := c.Peek(key)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInvalidatingOneKeyKeepsOtherInFlightResults(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	defer c.Close()

	slowKey := testKey("dashboard.sales_summary")
	otherKey := testKey("dashboard.branches")

	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "summary", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), slowKey, loader, GetOptions{})
		done <- err
	}()

	<-started
	// Invalidating an unrelated key must not discard the in-flight result
	c.Invalidate(context.Background(), otherKey)
	close(release)

	require.NoError(t, <-done)
	entry, ok := c.Peek(slowKey)
	require.True(t, ok, "the unrelated invalidation must not block the commit")
	assert.Equal(t, "summary", entry.Payload)
}

type recordingMetrics struct {
	hits, misses, staleHits, failures atomic.Int64
	durations                         atomic.Int64
	failedDurations                   atomic.Int64
}

func (m *recordingMetrics) Hit(context.Context, string)      { m.hits.Add(1) }
func (m *recordingMetrics) Miss(context.Context, string)     { m.misses.Add(1) }
func (m *recordingMetrics) StaleHit(context.Context, string) { m.staleHits.Add(1) }
func (m *recordingMetrics) LoaderFailure(context.Context, string) {
	m.failures.Add(1)
}

func (m *recordingMetrics) LoaderDuration(_ context.Context, _ string, _ time.Duration, success bool) {
	m.durations.Add(1)
	if !success {
		m.failedDurations.Add(1)
	}
}

func TestMetricsObserveLoaderDurations(t *testing.T) {
	clock := newFakeClock()
	metrics := &recordingMetrics{}
	c := newTestCache(clock, WithMetrics[string](metrics))
	defer c.Close()

	var calls atomic.Int64
	_, err := c.Get(context.Background(), testKey("dashboard.sales_summary"),
		countingLoader(&calls, "v", nil), GetOptions{})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), testKey("dashboard.branches"),
		countingLoader(&calls, "", errors.New("backend unreachable")), GetOptions{})
	require.Error(t, err)

	assert.Equal(t, int64(2), metrics.misses.Load())
	assert.Equal(t, int64(1), metrics.failures.Load())
	assert.Equal(t, int64(2), metrics.durations.Load(), "every loader call is timed")
	assert.Equal(t, int64(1), metrics.failedDurations.Load())
}
