package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "trace:nonce:"

// RedisStore is a NonceStore shared across process instances. SET NX with
// expiry gives the required atomic set-if-absent.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SetIfAbsent inserts the nonce with TTL unless it already exists.
func (s *RedisStore) SetIfAbsent(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Close is a no-op; the shared client is owned by the caller.
func (s *RedisStore) Close() {}
