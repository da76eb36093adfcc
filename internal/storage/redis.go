package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV backs the shared store with a Redis instance, letting clients on
// different machines share one chat the same way tabs share localStorage.
type RedisKV struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisKV(redisURL string) (*RedisKV, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx := context.Background()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisKV{client: client, ctx: ctx}, nil
}

func (r *RedisKV) Get(key string) ([]byte, error) {
	val, err := r.client.Get(r.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (r *RedisKV) Set(key string, value []byte) error {
	err := r.client.Set(r.ctx, key, value, 0).Err()
	if err != nil && isOOM(err) {
		return ErrQuotaExceeded
	}
	return err
}

func (r *RedisKV) Delete(key string) error {
	return r.client.Del(r.ctx, key).Err()
}

func (r *RedisKV) Keys(prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(r.ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

// isOOM matches Redis' maxmemory rejection ("OOM command not allowed...").
func isOOM(err error) bool {
	return err != nil && len(err.Error()) >= 3 && err.Error()[:3] == "OOM"
}
