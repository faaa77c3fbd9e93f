package cache

import (
	"context"
	"time"
)

// FastTier is a volatile, TTL-native mirror of the durable tier. Any key may
// vanish at any time; implementations provide their own per-key atomicity.
type FastTier interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	// DeletePattern removes every key matching a glob pattern ('*', '?' and
	// backslash escapes) and returns how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
