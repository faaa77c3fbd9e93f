// Package cache is the two-tier response and embedding cache. The durable
// tier (gorm) is the source of truth; the optional fast tier mirrors it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"catalog-rag/internal/metrics"
	"catalog-rag/internal/model"
)

var ErrEmptyScope = errors.New("empty invalidation scope")

type Options struct {
	QueryTTL          time.Duration
	EmbeddingTTL      time.Duration
	MaxEntries        int
	EvictionFraction  float64
	SemanticThreshold float64
	SemanticScanLimit int
	KeyPrefix         string
	PromotionTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		QueryTTL:          24 * time.Hour,
		EmbeddingTTL:      30 * 24 * time.Hour,
		MaxEntries:        1000,
		EvictionFraction:  0.10,
		SemanticThreshold: 0.95,
		SemanticScanLimit: 100,
		KeyPrefix:         "qa",
		PromotionTimeout:  2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.QueryTTL <= 0 {
		o.QueryTTL = d.QueryTTL
	}
	if o.EmbeddingTTL <= 0 {
		o.EmbeddingTTL = d.EmbeddingTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = d.MaxEntries
	}
	if o.EvictionFraction <= 0 || o.EvictionFraction > 1 {
		o.EvictionFraction = d.EvictionFraction
	}
	if o.SemanticThreshold <= 0 {
		o.SemanticThreshold = d.SemanticThreshold
	}
	if o.SemanticScanLimit <= 0 {
		o.SemanticScanLimit = d.SemanticScanLimit
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = d.KeyPrefix
	}
	if o.PromotionTimeout <= 0 {
		o.PromotionTimeout = d.PromotionTimeout
	}
	return o
}

type Store struct {
	db      *gorm.DB
	fast    FastTier
	opts    Options
	keys    keyspace
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time

	// writeMu makes count -> evict -> upsert one step per Store.
	writeMu    sync.Mutex
	promotions sync.WaitGroup
}

// New builds a Store. fast may be nil to run on the durable tier alone.
func New(db *gorm.DB, fast FastTier, opts Options, log logrus.FieldLogger, m *metrics.Metrics) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts = opts.withDefaults()
	return &Store{
		db:      db,
		fast:    fast,
		opts:    opts,
		keys:    keyspace{prefix: opts.KeyPrefix},
		log:     log.WithField("component", "cache"),
		metrics: m,
		now:     time.Now,
	}
}

// Open migrates the durable tables and checks the fast tier. An unreachable
// fast tier is logged, not fatal.
func (s *Store) Open(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&model.CacheEntry{}, &model.EmbeddingCacheEntry{}); err != nil {
		return fmt.Errorf("migrate cache tables failed: %w", err)
	}
	if s.fast != nil {
		if err := s.fast.Ping(ctx); err != nil {
			s.log.WithError(err).WithField("tier", s.fast.Name()).Warn("fast tier unreachable at startup")
		}
	}
	return nil
}

// Close waits for in-flight fast-tier promotions, then closes the fast tier.
func (s *Store) Close() error {
	s.promotions.Wait()
	if s.fast != nil {
		return s.fast.Close()
	}
	return nil
}

func (s *Store) Options() Options {
	return s.opts
}

// FastTierName is "none" when the store runs without a fast tier.
func (s *Store) FastTierName() string {
	if s.fast == nil {
		return "none"
	}
	return s.fast.Name()
}

// Ping reports durable tier health; fast tier failures come back soft.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get cache sql db failed: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping cache durable tier failed: %w", err)
	}
	if s.fast != nil {
		if err := s.fast.Ping(ctx); err != nil {
			return soft("ping", TierFast, err)
		}
	}
	return nil
}

// LookupExact serves a live entry for the query hash and scope, fast tier
// first. A durable hit warms the fast tier in the background.
func (s *Store) LookupExact(ctx context.Context, queryHash, catalogID, userID string) Lookup {
	var degraded error
	key := s.keys.query(catalogID, userID, queryHash)
	now := s.now()

	if s.fast != nil {
		entry, err := s.fastEntry(ctx, key)
		switch {
		case err != nil:
			degraded = soft("lookup_exact", TierFast, err)
			s.metrics.RecordCacheLookup("exact", TierFast, "error")
		case entry != nil && entry.Live(now):
			s.metrics.RecordCacheLookup("exact", TierFast, "hit")
			return Lookup{Status: Hit, Entry: entry, Tier: TierFast, Score: 1}
		default:
			s.metrics.RecordCacheLookup("exact", TierFast, "miss")
		}
	}

	var entry model.CacheEntry
	err := s.db.WithContext(ctx).
		Where("query_hash = ? AND catalog_id = ? AND user_id = ? AND expires_at > ?", queryHash, catalogID, userID, now).
		Take(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.metrics.RecordCacheLookup("exact", TierDurable, "miss")
		return missOrDegraded(degraded)
	case err != nil:
		s.metrics.RecordCacheLookup("exact", TierDurable, "error")
		return Lookup{Status: Degraded, Err: errors.Join(degraded, soft("lookup_exact", TierDurable, err))}
	}

	s.metrics.RecordCacheLookup("exact", TierDurable, "hit")
	s.promote(key, &entry, entry.ExpiresAt.Sub(now))
	return Lookup{Status: Hit, Entry: &entry, Tier: TierDurable, Score: 1}
}

// RecordHit bumps the hit counter and recency of an entry.
func (s *Store) RecordHit(ctx context.Context, entryID uint) error {
	err := s.db.WithContext(ctx).Model(&model.CacheEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]any{
			"hit_count": gorm.Expr("hit_count + 1"),
			"last_used": s.now(),
		}).Error
	if err != nil {
		return soft("record_hit", TierDurable, err)
	}
	return nil
}

// Record is the content of one answer to memoize.
type Record struct {
	Query       string
	Embedding   []float32
	Response    string
	Sources     []string
	DocumentIDs []string
	CatalogID   string
	UserID      string
}

func (s *Store) fastEntry(ctx context.Context, key string) (*model.CacheEntry, error) {
	raw, ok, err := s.fast.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.log.WithError(err).WithField("key", key).Debug("skip malformed fast tier record")
		return nil, nil
	}
	return &entry, nil
}

// promote copies an entry into the fast tier without blocking the caller.
// The copy is dropped again when the durable row was deleted or rewritten
// while the write was in flight.
func (s *Store) promote(key string, entry *model.CacheEntry, ttl time.Duration) {
	if s.fast == nil || ttl <= 0 {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	id, expiresAt := entry.ID, entry.ExpiresAt
	s.setFastAsync(key, payload, ttl, func(ctx context.Context) (bool, error) {
		var current model.CacheEntry
		err := s.db.WithContext(ctx).Select("id", "expires_at").Where("id = ?", id).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return false, nil
		case err != nil:
			return false, err
		}
		return current.ExpiresAt.Equal(expiresAt), nil
	})
}

// setFastAsync writes key in the background, then asks stillCurrent whether
// the durable source survived. Invalidations sweep the fast tier around
// their durable delete, so a write landing after the last sweep is only
// caught by this second look.
func (s *Store) setFastAsync(key string, payload []byte, ttl time.Duration, stillCurrent func(context.Context) (bool, error)) {
	s.promotions.Add(1)
	go func() {
		defer s.promotions.Done()
		log := s.log.WithField("key", key)

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PromotionTimeout)
		err := s.fast.Set(ctx, key, payload, ttl)
		cancel()
		if err != nil {
			log.WithError(soft("promote", TierFast, err)).Warn("fast tier warm-up failed")
			return
		}

		ctx, cancel = context.WithTimeout(context.Background(), s.opts.PromotionTimeout)
		defer cancel()
		ok, err := stillCurrent(ctx)
		if err == nil && ok {
			return
		}
		if err != nil {
			log.WithError(err).Debug("recheck after warm-up failed, dropping fast tier copy")
		}
		if _, err := s.fast.Delete(ctx, key); err != nil {
			log.WithError(soft("promote", TierFast, err)).Error("drop stale fast tier copy failed")
		}
	}()
}

func missOrDegraded(err error) Lookup {
	if err != nil {
		return Lookup{Status: Degraded, Err: err}
	}
	return Lookup{Status: Miss}
}
