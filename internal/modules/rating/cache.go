// README: Short-lived admin stats cache (memory or Redis).
package rating

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache interface {
	Get(ctx context.Context) (AdminStats, bool)
	Set(ctx context.Context, s AdminStats, ttl time.Duration)
}

type MemoryCache struct {
	mu      sync.Mutex
	stats   AdminStats
	expires time.Time
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (c *MemoryCache) Get(context.Context) (AdminStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expires.IsZero() || !c.now().Before(c.expires) {
		return AdminStats{}, false
	}
	return c.stats, true
}

func (c *MemoryCache) Set(_ context.Context, s AdminStats, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = s
	c.expires = c.now().Add(ttl)
}

const adminStatsKey = "tgtaxi:stats:admin"

// RedisCache shares the cached value between API replicas. Errors are treated as a miss.
type RedisCache struct {
	redis *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{redis: rdb}
}

func (c *RedisCache) Get(ctx context.Context) (AdminStats, bool) {
	raw, err := c.redis.Get(ctx, adminStatsKey).Bytes()
	if err != nil {
		return AdminStats{}, false
	}
	var s AdminStats
	if err := json.Unmarshal(raw, &s); err != nil {
		return AdminStats{}, false
	}
	return s, true
}

func (c *RedisCache) Set(ctx context.Context, s AdminStats, ttl time.Duration) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, adminStatsKey, raw, ttl).Err()
}
