package cache

import (
	"context"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryTier is an in-process fast tier for single-node deployments and tests.
type MemoryTier struct {
	items *gocache.Cache
}

func NewMemoryTier(cleanupInterval time.Duration) *MemoryTier {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryTier{items: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (t *MemoryTier) Name() string {
	return "memory"
}

func (t *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := t.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, ok := v.([]byte)
	return raw, ok, nil
}

func (t *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	t.items.Set(key, stored, ttl)
	return nil
}

func (t *MemoryTier) Delete(_ context.Context, keys ...string) (int64, error) {
	var n int64
	for _, k := range keys {
		if _, ok := t.items.Get(k); ok {
			n++
		}
		t.items.Delete(k)
	}
	return n, nil
}

func (t *MemoryTier) DeletePattern(_ context.Context, pattern string) (int64, error) {
	re, err := globRegexp(pattern)
	if err != nil {
		return 0, err
	}
	var n int64
	for k := range t.items.Items() {
		if re.MatchString(k) {
			t.items.Delete(k)
			n++
		}
	}
	return n, nil
}

func (t *MemoryTier) Ping(context.Context) error {
	return nil
}

func (t *MemoryTier) Close() error {
	t.items.Flush()
	return nil
}

// Len counts unexpired items.
func (t *MemoryTier) Len() int {
	return len(t.items.Items())
}

// globRegexp translates the redis glob subset used for key sweeps.
func globRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
			b.WriteString(".*")
		case r == '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}
