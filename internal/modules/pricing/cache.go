// README: Redis-backed cache in front of a pricing ConfigSource.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const configCacheKey = "haulbid:pricing:config"

type CachedSource struct {
	next ConfigSource
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedSource(next ConfigSource, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedSource {
	if log == nil {
		log = slog.Default()
	}
	return &CachedSource{next: next, rdb: rdb, ttl: ttl, log: log}
}

// Load serves from Redis when possible; cache errors fall through to the
// underlying source.
func (c *CachedSource) Load(ctx context.Context) (Config, error) {
	raw, err := c.rdb.Get(ctx, configCacheKey).Bytes()
	if err == nil {
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err == nil {
			return cfg, nil
		}
		c.log.Warn("pricing cache entry unreadable", "key", configCacheKey)
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("pricing cache get failed", "err", err)
	}

	cfg, err := c.next.Load(ctx)
	if err != nil {
		return Config{}, err
	}
	if raw, err := json.Marshal(cfg); err == nil {
		if err := c.rdb.Set(ctx, configCacheKey, raw, c.ttl).Err(); err != nil {
			c.log.Warn("pricing cache set failed", "err", err)
		}
	}
	return cfg, nil
}

// Invalidate drops the cached configuration.
func (c *CachedSource) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, configCacheKey).Err()
}
