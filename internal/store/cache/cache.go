// Package cache is the layered second-tier cache for token lookups: Redis
// when configured, falling back to an in-process go-cache TTL cache.
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Layer fronts a relational lookup with best-effort caching. Reads never
// fail the caller on a cache miss or cache-backend error — they simply fall
// through to the store.
type Layer struct {
	redis *redis.Client
	local *gocache.Cache
}

func New(redisURL string, defaultTTL, cleanupInterval time.Duration) *Layer {
	l := &Layer{local: gocache.New(defaultTTL, cleanupInterval)}
	if redisURL != "" {
		if opt, err := redis.ParseURL(redisURL); err == nil {
			l.redis = redis.NewClient(opt)
		}
	}
	return l
}

func (l *Layer) Get(ctx context.Context, key string) (string, bool) {
	if l.redis != nil {
		if v, err := l.redis.Get(ctx, key).Result(); err == nil {
			return v, true
		}
	}
	if v, ok := l.local.Get(key); ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

func (l *Layer) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if l.redis != nil {
		_ = l.redis.Set(ctx, key, value, ttl).Err()
	}
	l.local.Set(key, value, ttl)
}

func (l *Layer) Invalidate(ctx context.Context, key string) {
	if l.redis != nil {
		_ = l.redis.Del(ctx, key).Err()
	}
	l.local.Delete(key)
}
