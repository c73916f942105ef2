package history

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps slots in Redis for server deployments where the process
// filesystem is ephemeral.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get reads one slot; a missing key is simply absent.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set writes one slot without expiry; the ledger bounds its own size.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

var _ Store = (*RedisStore)(nil)
