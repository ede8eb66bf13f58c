package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for keys that hold no value.
var ErrNotFound = errors.New("memory: key not found")

// KV is the narrow storage interface behind the visitor store. Profiles
// persist until explicitly deleted; implementations must not expire keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte) error
	Del(ctx context.Context, key string) error
}

// RedisKV stores values as plain Redis strings with no TTL.
type RedisKV struct {
	client redis.Cmdable
}

// NewRedisKV wraps a Redis client.
func NewRedisKV(client redis.Cmdable) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, val []byte) error {
	if err := r.client.Set(ctx, key, val, 0).Err(); err != nil {
		return fmt.Errorf("memory: set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("memory: del %s: %w", key, err)
	}
	return nil
}
