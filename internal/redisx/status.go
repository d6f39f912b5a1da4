package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache keeps the last known order status for cheap polling by the UI.
// The database stays the source of truth; writers only invalidate.
type StatusCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *StatusCache) key(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func (c *StatusCache) Get(ctx context.Context, orderID string) ([]byte, bool) {
	b, err := c.RDB.Get(ctx, c.key(orderID)).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c *StatusCache) Set(ctx context.Context, orderID string, v []byte) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	_ = c.RDB.Set(ctx, c.key(orderID), v, ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) {
	_ = c.RDB.Del(ctx, c.key(orderID)).Err()
}
