package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a CounterStore shared across process instances.
// INCR + EXPIRE NX in a pipeline keeps the increment atomic while bounding
// every window key's lifetime.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a RedisCounter on an existing client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments the windowed counter and returns the new value.
func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return incr.Val(), nil
}

// Close is a no-op; the shared client is owned by the caller.
func (c *RedisCounter) Close() {}
