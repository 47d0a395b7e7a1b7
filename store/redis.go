package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBlobs stores each key as a single string value. SET replaces the value
// atomically.
type RedisBlobs struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBlobs(ctx context.Context, addr, password string, db int, prefix string) (*RedisBlobs, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &RedisBlobs{rdb: rdb, prefix: prefix}, nil
}

func (r *RedisBlobs) Name() string { return "redis" }

func (r *RedisBlobs) Write(ctx context.Context, key string, data []byte) error {
	return r.rdb.Set(ctx, r.prefix+key, data, 0).Err()
}

func (r *RedisBlobs) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *RedisBlobs) Close() error {
	return r.rdb.Close()
}
