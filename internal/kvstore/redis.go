package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores facade entries in Redis, leaning on native TTLs for
// expiry.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the Redis instance described by addr and
// verifies the connection before returning.
func NewRedisBackend(ctx context.Context, addr string) (*RedisBackend, error) {
	if addr == "" {
		return nil, fmt.Errorf("kvstore: redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("kvstore: connect to redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackendWithClient wraps an existing client, used by tests.
func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get returns the raw value stored under key.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set writes the value under key, with a native TTL when positive.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// Remove deletes the entry under key.
func (b *RedisBackend) Remove(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// Keys scans for keys beneath prefix.
func (b *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close releases the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
