// Package cache implements the response cache: a fingerprint keyed,
// two-tier (in-process + Redis) store with pluggable eviction and
// at-most-one-concurrent-build semantics for cache misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Get when no tier holds the key.
var ErrMiss = errors.New("cache miss")

// Config controls both cache tiers.
type Config struct {
	LocalCapacity int
	LocalTTL      time.Duration
	RedisTTL      time.Duration
	EnableLocal   bool
	EnableRedis   bool
	Policy        Policy
}

// DefaultConfig mirrors common response-cache sizing: a modest local
// tier backstopped by a longer-lived Redis tier.
func DefaultConfig() *Config {
	return &Config{
		LocalCapacity: 1000,
		LocalTTL:      5 * time.Minute,
		RedisTTL:      time.Hour,
		EnableLocal:   true,
		EnableRedis:   true,
		Policy:        PolicyLRU,
	}
}

// Cache is the response cache facade used by the request pipeline.
type Cache struct {
	local  *LocalCache
	redis  *redis.Client
	config *Config
	logger *zap.Logger
	group  singleflight.Group
}

// New creates a Cache. rdb may be nil, in which case only the local tier
// is used regardless of config.EnableRedis.
func New(rdb *redis.Client, config *Config, logger *zap.Logger) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var local *LocalCache
	if config.EnableLocal {
		local = NewLocalCache(config.LocalCapacity, config.LocalTTL, config.Policy)
	}

	return &Cache{
		local:  local,
		redis:  rdb,
		config: config,
		logger: logger,
	}
}

// Get returns the cached record for key, checking the local tier first
// and falling back to Redis, backfilling the local tier on a Redis hit.
func (c *Cache) Get(ctx context.Context, key string) (*ResponseRecord, error) {
	if c.config.EnableLocal && c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			return entry.Response, nil
		}
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
		if err == nil {
			var rec ResponseRecord
			if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil {
				if c.config.EnableLocal && c.local != nil {
					c.local.Set(key, &Entry{Response: &rec, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(c.config.LocalTTL)})
				}
				return &rec, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get error", zap.Error(err))
		}
	}

	return nil, ErrMiss
}

// Set writes key to both enabled tiers.
func (c *Cache) Set(ctx context.Context, key string, rec *ResponseRecord) error {
	now := time.Now()

	if c.config.EnableLocal && c.local != nil {
		c.local.Set(key, &Entry{Response: rec, CreatedAt: now, ExpiresAt: now.Add(c.config.LocalTTL)})
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := c.redis.Set(ctx, c.redisKey(key), data, c.config.RedisTTL).Err(); err != nil {
			c.logger.Warn("redis set error", zap.Error(err))
			return err
		}
	}

	return nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.config.EnableLocal && c.local != nil {
		c.local.Delete(key)
	}
	if c.config.EnableRedis && c.redis != nil {
		return c.redis.Del(ctx, c.redisKey(key)).Err()
	}
	return nil
}

func (c *Cache) redisKey(key string) string {
	return "modelmesh:cache:" + key
}

// GetOrBuild returns the cached record for key if present, otherwise
// calls build exactly once even under concurrent callers for the same
// key, caches its result, and returns it to every waiter.
func (c *Cache) GetOrBuild(ctx context.Context, key string, build func(ctx context.Context) (*ResponseRecord, error)) (*ResponseRecord, bool, error) {
	if rec, err := c.Get(ctx, key); err == nil {
		return rec, true, nil
	}

	// singleflight.Do's own "shared" result is true for every caller in a
	// coalesced group, leader included, so it cannot tell the caller that
	// actually ran build from the ones that rode its result. isLeader is
	// only ever set from inside the closure, which runs in exactly one of
	// the concurrent callers' goroutines; every other caller's closure
	// (and its own isLeader) is never invoked.
	var isLeader bool
	v, err, _ := c.group.Do(key, func() (any, error) {
		isLeader = true
		rec, buildErr := build(ctx)
		if buildErr != nil {
			return nil, buildErr
		}
		if setErr := c.Set(ctx, key, rec); setErr != nil {
			c.logger.Warn("cache set after build failed", zap.Error(setErr))
		}
		return rec, nil
	})
	if err != nil {
		return nil, false, err
	}

	rec := v.(*ResponseRecord)
	return rec, !isLeader, nil
}
