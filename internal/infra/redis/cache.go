package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valekseev/satledger/pkg/logger"
)

const (
	// DefaultTTL bounds how long a cached report can serve reads. Every
	// mutation clears the cache anyway; the TTL only covers writers that
	// bypass the service (manual SQL, restores).
	DefaultTTL = 5 * time.Minute

	// KeyPrefix is the prefix for report cache keys
	KeyPrefix = "report:"
)

// Cache is a Redis-backed cache for rendered reports. Reports are pure
// functions of the committed ledger state, so the whole cache is invalidated
// wholesale after every mutation rather than tracking per-key dependencies.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewCache creates a new report cache
func NewCache(client *redis.Client, log *logger.Logger) *Cache {
	return &Cache{
		client: client,
		ttl:    DefaultTTL,
		logger: log.WithField("component", "cache"),
	}
}

// NewCacheWithTTL creates a new report cache with custom TTL
func NewCacheWithTTL(client *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "cache"),
	}
}

// Get retrieves a cached report and unmarshals it into dest. The second
// return value reports whether the key was present.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	full := KeyPrefix + key

	val, err := c.client.Get(ctx, full).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		c.logger.Error("cache error", "operation", "get", "key", key, "error", err)
		return false, fmt.Errorf("failed to get cached report: %w", err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached report: %w", err)
	}

	c.logger.Debug("cache hit", "key", key)
	return true, nil
}

// Set stores a rendered report under the given key
func (c *Cache) Set(ctx context.Context, key string, report any) error {
	full := KeyPrefix + key

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := c.client.Set(ctx, full, data, c.ttl).Err(); err != nil {
		c.logger.Error("cache error", "operation", "set", "key", key, "error", err)
		return fmt.Errorf("failed to set cached report: %w", err)
	}

	return nil
}

// Clear removes every cached report. Called after each committed ledger
// mutation: a replay can change any derived figure, so no cached report
// survives.
func (c *Cache) Clear(ctx context.Context) error {
	pattern := KeyPrefix + "*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()

	pipe := c.client.Pipeline()
	count := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++
		if count >= 100 {
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			pipe = c.client.Pipeline()
			count = 0
		}
	}

	if count > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}

	return iter.Err()
}
