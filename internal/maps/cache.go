// README: Redis cache for route lookups, keyed by rounded endpoints.
package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"haulbid/internal/metrics"
	"haulbid/internal/types"
)

type Router interface {
	Route(ctx context.Context, from, to types.Point) (types.Route, error)
}

type CachedRouter struct {
	next Router
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedRouter(next Router, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedRouter {
	if log == nil {
		log = slog.Default()
	}
	return &CachedRouter{next: next, rdb: rdb, ttl: ttl, log: log}
}

// RouteKey rounds endpoints to ~1m so repeated quotes for the same
// addresses share an entry.
func RouteKey(from, to types.Point) string {
	return fmt.Sprintf("haulbid:route:%.5f,%.5f:%.5f,%.5f", from.Lat, from.Lng, to.Lat, to.Lng)
}

func (c *CachedRouter) Route(ctx context.Context, from, to types.Point) (types.Route, error) {
	start := time.Now()
	key := RouteKey(from, to)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var r types.Route
		if err := json.Unmarshal(raw, &r); err == nil {
			metrics.TrackRouteLookup("ok", true, time.Since(start))
			return r, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("route cache get failed", "err", err)
	}

	r, err := c.next.Route(ctx, from, to)
	if err != nil {
		return types.Route{}, err
	}
	if raw, err := json.Marshal(r); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.log.Warn("route cache set failed", "err", err)
		}
	}
	return r, nil
}
