package noncestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore reserves nonces with SET NX, for deployments that front the KV
// store with Redis. Same fail-closed contract as the DynamoDB store.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed nonce store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) TryReserve(ctx context.Context, nonce, repoID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+nonceKey(nonce), repoID, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) IsReserved(ctx context.Context, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+nonceKey(nonce)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Close() {
	// Redis client is shared — don't close it here.
}
