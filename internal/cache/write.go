package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog-rag/internal/model"
)

var scopeColumns = []clause.Column{{Name: "query_hash"}, {Name: "catalog_id"}, {Name: "user_id"}}

// Save memoizes an answer. When the durable tier is at capacity the oldest
// entries by last use are evicted first; the write itself is an upsert on
// (query hash, catalog, user), so one scope never holds two rows.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.Query == "" {
		return errors.New("cache save: empty query")
	}
	now := s.now()
	entry := model.CacheEntry{
		QueryHash:      HashText(rec.Query),
		CatalogID:      rec.CatalogID,
		UserID:         rec.UserID,
		Query:          rec.Query,
		QueryEmbedding: model.EncodeVector(rec.Embedding),
		Response:       rec.Response,
		Sources:        model.StringsJSON(rec.Sources),
		DocumentIDs:    model.StringsJSON(uniqueStrings(rec.DocumentIDs)),
		CreatedAt:      now,
		LastUsed:       now,
		ExpiresAt:      now.Add(s.opts.QueryTTL),
	}

	var (
		stored  model.CacheEntry
		evicted []model.CacheEntry
	)
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if evicted, err = s.evict(tx); err != nil {
			return err
		}
		err = tx.Clauses(clause.OnConflict{
			Columns: scopeColumns,
			DoUpdates: clause.AssignmentColumns([]string{
				"query", "query_embedding", "response", "sources", "document_ids", "last_used", "expires_at",
			}),
		}).Create(&entry).Error
		if err != nil {
			return fmt.Errorf("upsert cache entry failed: %w", err)
		}
		return tx.Where("query_hash = ? AND catalog_id = ? AND user_id = ?", entry.QueryHash, entry.CatalogID, entry.UserID).
			Take(&stored).Error
	})
	s.writeMu.Unlock()
	if err != nil {
		return soft("save", TierDurable, err)
	}

	if len(evicted) > 0 {
		s.metrics.RecordEvictions(len(evicted))
		s.log.WithField("evicted", len(evicted)).Info("query cache at capacity, evicted least recently used entries")
		if err := s.dropFastEntries(ctx, evicted); err != nil {
			s.log.WithError(err).Warn("drop evicted fast tier records failed")
		}
	}

	if s.fast == nil {
		return nil
	}
	payload, err := json.Marshal(&stored)
	if err != nil {
		return soft("save", TierFast, err)
	}
	key := s.keys.query(stored.CatalogID, stored.UserID, stored.QueryHash)
	if err := s.fast.Set(ctx, key, payload, stored.ExpiresAt.Sub(now)); err != nil {
		return soft("save", TierFast, err)
	}
	return nil
}

// evict removes the oldest EvictionFraction of entries (at least one) when
// the table holds MaxEntries or more. Callers hold writeMu.
func (s *Store) evict(tx *gorm.DB) ([]model.CacheEntry, error) {
	var count int64
	if err := tx.Model(&model.CacheEntry{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("count cache entries failed: %w", err)
	}
	if count < int64(s.opts.MaxEntries) {
		return nil, nil
	}
	n := int(float64(count) * s.opts.EvictionFraction)
	if n < 1 {
		n = 1
	}

	var victims []model.CacheEntry
	err := tx.Select("id", "query_hash", "catalog_id", "user_id").
		Order("last_used ASC").Order("id ASC").
		Limit(n).
		Find(&victims).Error
	if err != nil {
		return nil, fmt.Errorf("select eviction victims failed: %w", err)
	}
	if err := tx.Where("id IN ?", entryIDs(victims)).Delete(&model.CacheEntry{}).Error; err != nil {
		return nil, fmt.Errorf("evict cache entries failed: %w", err)
	}
	return victims, nil
}

// dropFastEntries removes the fast-tier mirrors of durable rows.
func (s *Store) dropFastEntries(ctx context.Context, entries []model.CacheEntry) error {
	if s.fast == nil || len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, s.keys.query(e.CatalogID, e.UserID, e.QueryHash))
	}
	if _, err := s.fast.Delete(ctx, keys...); err != nil {
		return soft("delete", TierFast, err)
	}
	return nil
}

// EmbeddingLookup is the result of an embedding cache read.
type EmbeddingLookup struct {
	Status Status
	Vector []float32
	Tier   string
	Err    error
}

// GetEmbedding reads a cached embedding by text content, fast tier first.
func (s *Store) GetEmbedding(ctx context.Context, text string) EmbeddingLookup {
	hash := HashText(text)
	key := s.keys.embedding(hash)
	now := s.now()
	var degraded error

	if s.fast != nil {
		raw, ok, err := s.fast.Get(ctx, key)
		switch {
		case err != nil:
			degraded = soft("get_embedding", TierFast, err)
			s.metrics.RecordCacheLookup("embedding", TierFast, "error")
		case ok:
			if vec, err := model.DecodeVector(string(raw)); err == nil && len(vec) > 0 {
				s.metrics.RecordCacheLookup("embedding", TierFast, "hit")
				return EmbeddingLookup{Status: Hit, Vector: vec, Tier: TierFast}
			}
		default:
			s.metrics.RecordCacheLookup("embedding", TierFast, "miss")
		}
	}

	var entry model.EmbeddingCacheEntry
	err := s.db.WithContext(ctx).Where("text_hash = ? AND expires_at > ?", hash, now).Take(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.metrics.RecordCacheLookup("embedding", TierDurable, "miss")
		l := missOrDegraded(degraded)
		return EmbeddingLookup{Status: l.Status, Err: l.Err}
	case err != nil:
		s.metrics.RecordCacheLookup("embedding", TierDurable, "error")
		return EmbeddingLookup{Status: Degraded, Err: errors.Join(degraded, soft("get_embedding", TierDurable, err))}
	}

	vec, err := model.DecodeVector(entry.Embedding)
	if err != nil || len(vec) == 0 {
		s.log.WithField("text_hash", hash).Debug("skip malformed cached embedding")
		return EmbeddingLookup{Status: Miss}
	}
	s.metrics.RecordCacheLookup("embedding", TierDurable, "hit")
	if s.fast != nil {
		s.setFastAsync(key, []byte(entry.Embedding), entry.ExpiresAt.Sub(now), func(ctx context.Context) (bool, error) {
			var n int64
			err := s.db.WithContext(ctx).Model(&model.EmbeddingCacheEntry{}).Where("text_hash = ?", hash).Count(&n).Error
			return n > 0, err
		})
	}
	return EmbeddingLookup{Status: Hit, Vector: vec, Tier: TierDurable}
}

// PutEmbedding writes an embedding to both tiers.
func (s *Store) PutEmbedding(ctx context.Context, text string, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	now := s.now()
	entry := model.EmbeddingCacheEntry{
		TextHash:  HashText(text),
		Embedding: model.EncodeVector(vec),
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.EmbeddingTTL),
	}

	var errs []error
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "text_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding", "expires_at"}),
	}).Create(&entry).Error
	if err != nil {
		errs = append(errs, soft("put_embedding", TierDurable, err))
	}
	if s.fast != nil {
		if err := s.fast.Set(ctx, s.keys.embedding(entry.TextHash), []byte(entry.Embedding), s.opts.EmbeddingTTL); err != nil {
			errs = append(errs, soft("put_embedding", TierFast, err))
		}
	}
	return errors.Join(errs...)
}

func entryIDs(entries []model.CacheEntry) []uint {
	ids := make([]uint, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
