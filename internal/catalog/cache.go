package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "catalog:snapshot"

// Cache keeps the rendered catalog snapshot in Redis so list reads skip the
// database between stock changes. The consumer loop invalidates it after
// every applied event, so staleness never exceeds consumer lag.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(addr string) *Cache {
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: time.Minute,
	}
}

// Snapshot returns the cached catalog JSON, or nil on a miss.
func (c *Cache) Snapshot(ctx context.Context) ([]byte, error) {
	data, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Cache) SetSnapshot(ctx context.Context, data []byte) error {
	return c.rdb.Set(ctx, snapshotKey, data, c.ttl).Err()
}

// Invalidate drops the snapshot after a stock change.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, snapshotKey).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
