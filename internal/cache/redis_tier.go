package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const scanBatch = 500

type RedisTier struct {
	client redisv9.UniversalClient
}

func NewRedisTier(client redisv9.UniversalClient) *RedisTier {
	return &RedisTier{client: client}
}

func (t *RedisTier) Name() string {
	return "redis"
}

func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return raw, true, nil
}

func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := t.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (t *RedisTier) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := t.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete failed: %w", err)
	}
	return n, nil
}

// DeletePattern walks the keyspace with SCAN so large sweeps never block the server.
func (t *RedisTier) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			n, err := t.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis delete failed: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (t *RedisTier) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (t *RedisTier) Close() error {
	return t.client.Close()
}
