// Package redis implements persistence on a redis backend. The engine keeps
// negotiated endpoint data references here so tokens survive a restart.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// DefaultExpire is the TTL for rows whose value carries no expiry of its own.
const DefaultExpire = time.Hour

// RedisClient is the subset of the go-redis client the stores use. Tests
// substitute a mock.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

var _ RedisClient = (*redis.Client)(nil)

// RedisStore is a generic store on a redis backend with pluggable
// serialization.
type RedisStore[Key, Value any] struct {
	fromRedis func(string) (Value, error)
	toRedis   func(Value) (string, error)
	keyString func(Key) string
	client    RedisClient
}

func NewRedisStore[Key, Value any](
	fromRedis func(string) (Value, error),
	toRedis func(Value) (string, error),
	keyString func(Key) string,
	client RedisClient) *RedisStore[Key, Value] {
	return &RedisStore[Key, Value]{fromRedis, toRedis, keyString, client}
}

// Get retrieves a value from redis. Absent keys return [types.ErrKeyNotFound].
func (rs *RedisStore[Key, Value]) Get(ctx context.Context, key Key) (Value, error) {
	data, err := rs.client.Get(ctx, rs.keyString(key)).Result()
	if err != nil {
		var v Value
		if err == redis.Nil {
			return v, types.ErrKeyNotFound
		}
		return v, fmt.Errorf("error accessing redis: %w", err)
	}
	return rs.fromRedis(data)
}

// Put stores a value in redis with the given TTL. A zero TTL applies
// [DefaultExpire].
func (rs *RedisStore[Key, Value]) Put(ctx context.Context, key Key, value Value, ttl time.Duration) error {
	data, err := rs.toRedis(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultExpire
	}
	if err := rs.client.Set(ctx, rs.keyString(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("error accessing redis: %w", err)
	}
	return nil
}

// Delete removes a key from redis. Deleting an absent key is not an error.
func (rs *RedisStore[Key, Value]) Delete(ctx context.Context, key Key) error {
	if err := rs.client.Del(ctx, rs.keyString(key)).Err(); err != nil {
		return fmt.Errorf("error accessing redis: %w", err)
	}
	return nil
}
