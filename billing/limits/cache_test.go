// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quillworks/platform/shared/logger"
)

// countingCounter tracks how often the backing store was hit.
type countingCounter struct {
	mu    sync.Mutex
	value int
	calls int
}

func (c *countingCounter) Count(ctx context.Context, subscriptionID string, kind ResourceKind) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.value, nil
}

func newCacheUnderTest(t *testing.T, ttl time.Duration) (*CountCache, *countingCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingCounter{value: 4}
	return NewCountCache(inner, rdb, ttl), inner, mr
}

func TestCountCacheHit(t *testing.T) {
	cache, inner, _ := newCacheUnderTest(t, time.Minute)
	ctx := context.Background()

	n, err := cache.Count(ctx, "sub-1", ResourceAgentKey)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, inner.calls)

	// Second read comes from Redis.
	n, err = cache.Count(ctx, "sub-1", ResourceAgentKey)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, inner.calls)
}

func TestCountCacheExpiry(t *testing.T) {
	cache, inner, mr := newCacheUnderTest(t, time.Second)
	ctx := context.Background()

	_, err := cache.Count(ctx, "sub-1", ResourceAgentKey)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	inner.value = 5
	n, err := cache.Count(ctx, "sub-1", ResourceAgentKey)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 2, inner.calls)
}

func TestCountCacheInvalidate(t *testing.T) {
	cache, inner, _ := newCacheUnderTest(t, time.Minute)
	ctx := context.Background()

	_, err := cache.Count(ctx, "sub-1", ResourceAgentKey)
	require.NoError(t, err)

	// A key was created; the stale cached count must not hide it.
	inner.value = 5
	cache.Invalidate(ctx, "sub-1", ResourceAgentKey)

	n, err := cache.Count(ctx, "sub-1", ResourceAgentKey)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestCountCacheKeysAreScoped(t *testing.T) {
	cache, inner, _ := newCacheUnderTest(t, time.Minute)
	ctx := context.Background()

	_, err := cache.Count(ctx, "sub-1", ResourceAgentKey)
	require.NoError(t, err)
	_, err = cache.Count(ctx, "sub-1", ResourceChannel)
	require.NoError(t, err)
	_, err = cache.Count(ctx, "sub-2", ResourceAgentKey)
	require.NoError(t, err)

	// Three distinct keys, three backing reads.
	assert.Equal(t, 3, inner.calls)
}

// A dead Redis degrades to direct counting, never to an error.
func TestCountCacheFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingCounter{value: 7}
	cache := NewCountCache(inner, rdb, time.Minute)
	mr.Close()

	n, err := cache.Count(context.Background(), "sub-1", ResourceAgentKey)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 1, inner.calls)
}

// Admission must recount even when a cached count warmed moments earlier
// still says there is room: a key created through another node inside the
// TTL would otherwise slip past the cap.
func TestCheckLimitIgnoresCachedCount(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dir := newMockDirectory()
	dir.set("sub-1", "starter", ResourceAgentKey, 4)

	checker := NewChecker(DefaultPlans(), dir, dir, logger.New("test"))
	checker.UseReportCache(NewCountCache(dir, rdb, time.Minute))
	ctx := context.Background()

	// Warm the cache at 4 of the starter cap of 5.
	_, err := checker.Report(ctx, "sub-1")
	require.NoError(t, err)
	require.NoError(t, checker.CheckLimit(ctx, "sub-1", ResourceAgentKey, 1))

	// A fifth key appears through another node.
	dir.set("sub-1", "starter", ResourceAgentKey, 5)

	report, err := checker.Report(ctx, "sub-1")
	require.NoError(t, err)
	for _, u := range report.Usage {
		if u.Kind == ResourceAgentKey {
			assert.Equal(t, 4, u.Current, "report tolerates the cached count")
		}
	}

	err = checker.CheckLimit(ctx, "sub-1", ResourceAgentKey, 1)
	var exceeded *LimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 5, exceeded.Current)
}
