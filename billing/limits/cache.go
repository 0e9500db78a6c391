// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultCountTTL bounds how stale a cached count may be.
const DefaultCountTTL = 30 * time.Second

// CountCache fronts a ResourceCounter with a short-TTL Redis cache. The
// fan-out count is read-heavy (workspaces, agents, then child collections);
// caching it for a few seconds takes that load off the primary store.
//
// The cache serves informational reads only, the usage report in particular.
// Admission checks must never read through it: a cached count is blind to
// resources created through other nodes inside the TTL, which would let a
// check admit past the cap. Any Redis error falls through to a fresh count.
type CountCache struct {
	inner ResourceCounter
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCountCache wraps a counter with a Redis cache.
func NewCountCache(inner ResourceCounter, rdb *redis.Client, ttl time.Duration) *CountCache {
	if ttl <= 0 {
		ttl = DefaultCountTTL
	}
	return &CountCache{inner: inner, rdb: rdb, ttl: ttl}
}

func countKey(subscriptionID string, kind ResourceKind) string {
	return fmt.Sprintf("limits:count:%s:%s", subscriptionID, kind)
}

// Count returns the cached count when fresh, recomputing and repopulating
// otherwise.
func (c *CountCache) Count(ctx context.Context, subscriptionID string, kind ResourceKind) (int, error) {
	key := countKey(subscriptionID, kind)

	cached, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		if n, perr := strconv.Atoi(cached); perr == nil {
			return n, nil
		}
	}
	// redis.Nil is a plain miss; anything else fails open to a fresh count.

	n, err := c.inner.Count(ctx, subscriptionID, kind)
	if err != nil {
		return 0, err
	}

	// Cache write failures are invisible to callers.
	_ = c.rdb.Set(ctx, key, strconv.Itoa(n), c.ttl).Err()
	return n, nil
}

// Invalidate drops the cached count for one subscription and kind, so the
// next cached read reflects a resource created or deleted moments ago.
func (c *CountCache) Invalidate(ctx context.Context, subscriptionID string, kind ResourceKind) {
	_ = c.rdb.Del(ctx, countKey(subscriptionID, kind)).Err()
}
