package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"catalog-rag/internal/model"
)

// InvalidateByDocument deletes every query-cache entry whose document set
// contains documentID. Embeddings are content-addressed and stay valid.
// A fast-tier failure is returned as a hard error: a stale answer about a
// removed document must not outlive the document.
func (s *Store) InvalidateByDocument(ctx context.Context, documentID string) (int64, error) {
	if documentID == "" {
		return 0, ErrEmptyScope
	}
	victims, err := s.entriesReferencing(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}

	if err := s.dropFastEntries(ctx, victims); err != nil {
		return 0, fmt.Errorf("invalidate document %s: %w", documentID, errors.Join(ErrTierUnavailable, err))
	}
	res := s.db.WithContext(ctx).Where("id IN ?", entryIDs(victims)).Delete(&model.CacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete cache entries for document %s failed: %w", documentID, res.Error)
	}
	// second pass catches durable hits promoted while the rows were being deleted
	if err := s.dropFastEntries(ctx, victims); err != nil {
		s.log.WithError(err).WithField("document_id", documentID).Warn("fast tier re-sweep failed")
	}

	s.metrics.RecordInvalidation("document", res.RowsAffected)
	s.log.WithFields(logrus.Fields{"document_id": documentID, "deleted": res.RowsAffected}).Info("invalidated cache by document")
	return res.RowsAffected, nil
}

// entriesReferencing finds rows whose document_ids JSON array holds documentID.
func (s *Store) entriesReferencing(ctx context.Context, documentID string) ([]model.CacheEntry, error) {
	q := s.db.WithContext(ctx).Model(&model.CacheEntry{}).Select("id", "query_hash", "catalog_id", "user_id", "document_ids")
	if s.db.Dialector.Name() == "mysql" {
		q = q.Where("JSON_CONTAINS(document_ids, JSON_QUOTE(?))", documentID)
	} else {
		q = q.Where(`document_ids LIKE ? ESCAPE '!'`, "%"+escapeLike(`"`+documentID+`"`)+"%")
	}

	var rows []model.CacheEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find cache entries for document %s failed: %w", documentID, err)
	}
	// the LIKE path can over-match on escaped JSON; confirm against the decoded set
	matched := rows[:0]
	for _, r := range rows {
		if slices.Contains(r.DocumentIDList(), documentID) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

func (s *Store) InvalidateByCatalog(ctx context.Context, catalogID string) (int64, error) {
	if catalogID == "" {
		return 0, ErrEmptyScope
	}
	return s.invalidateScope(ctx, "catalog", "catalog_id", catalogID, s.keys.catalogPattern(catalogID))
}

// InvalidateByUser deletes the user's durable entries and sweeps the fast
// tier by key pattern, since fast-tier keys embed the user id.
func (s *Store) InvalidateByUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrEmptyScope
	}
	return s.invalidateScope(ctx, "user", "user_id", userID, s.keys.userPattern(userID))
}

func (s *Store) invalidateScope(ctx context.Context, scope, column, id, pattern string) (int64, error) {
	if s.fast != nil {
		if _, err := s.fast.DeletePattern(ctx, pattern); err != nil {
			return 0, fmt.Errorf("invalidate %s %s: %w", scope, id, errors.Join(ErrTierUnavailable, soft("delete_pattern", TierFast, err)))
		}
	}
	res := s.db.WithContext(ctx).Where(column+" = ?", id).Delete(&model.CacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete cache entries for %s %s failed: %w", scope, id, res.Error)
	}
	if s.fast != nil {
		if _, err := s.fast.DeletePattern(ctx, pattern); err != nil {
			s.log.WithError(err).WithField(scope+"_id", id).Warn("fast tier re-sweep failed")
		}
	}

	s.metrics.RecordInvalidation(scope, res.RowsAffected)
	s.log.WithFields(logrus.Fields{scope + "_id": id, "deleted": res.RowsAffected}).Info("invalidated cache by " + scope)
	return res.RowsAffected, nil
}

type ClearResult struct {
	Queries    int64 `json:"queries"`
	Embeddings int64 `json:"embeddings"`
	FastTier   int64 `json:"fast_tier"`
}

// ClearAll wipes every tier. Only keys under the store's prefix are removed
// from the fast tier.
func (s *Store) ClearAll(ctx context.Context) (ClearResult, error) {
	var out ClearResult
	db := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})

	res := db.Delete(&model.CacheEntry{})
	if res.Error != nil {
		return out, fmt.Errorf("clear query cache failed: %w", res.Error)
	}
	out.Queries = res.RowsAffected

	res = db.Delete(&model.EmbeddingCacheEntry{})
	if res.Error != nil {
		return out, fmt.Errorf("clear embedding cache failed: %w", res.Error)
	}
	out.Embeddings = res.RowsAffected

	if s.fast != nil {
		for _, pattern := range []string{s.keys.queryPattern(), s.keys.embeddingPattern()} {
			n, err := s.fast.DeletePattern(ctx, pattern)
			out.FastTier += n
			if err != nil {
				return out, fmt.Errorf("clear fast tier: %w", errors.Join(ErrTierUnavailable, soft("clear", TierFast, err)))
			}
		}
	}

	s.log.WithFields(logrus.Fields{
		"queries":    out.Queries,
		"embeddings": out.Embeddings,
		"fast_tier":  out.FastTier,
	}).Warn("cache cleared")
	return out, nil
}

// CleanupExpired deletes expired rows from both durable tables. Idempotent.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()
	db := s.db.WithContext(ctx)

	queries := db.Where("expires_at < ?", now).Delete(&model.CacheEntry{})
	if queries.Error != nil {
		return 0, fmt.Errorf("cleanup expired queries failed: %w", queries.Error)
	}
	embeddings := db.Where("expires_at < ?", now).Delete(&model.EmbeddingCacheEntry{})
	if embeddings.Error != nil {
		return queries.RowsAffected, fmt.Errorf("cleanup expired embeddings failed: %w", embeddings.Error)
	}
	return queries.RowsAffected + embeddings.RowsAffected, nil
}

type Stats struct {
	TotalEntries       int64      `json:"total_entries"`
	LiveEntries        int64      `json:"live_entries"`
	TotalHits          int64      `json:"total_hits"`
	AvgHitCount        float64    `json:"avg_hit_count"`
	OldestEntry        *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry        *time.Time `json:"newest_entry,omitempty"`
	EmbeddingCacheSize int64      `json:"embedding_cache_size"`
	MaxEntries         int        `json:"max_entries"`
	FastTier           string     `json:"fast_tier"`
}

func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{MaxEntries: s.opts.MaxEntries, FastTier: s.FastTierName()}
	db := s.db.WithContext(ctx)

	if err := db.Model(&model.CacheEntry{}).Count(&stats.TotalEntries).Error; err != nil {
		return stats, fmt.Errorf("count cache entries failed: %w", err)
	}
	if err := db.Model(&model.CacheEntry{}).Where("expires_at > ?", s.now()).Count(&stats.LiveEntries).Error; err != nil {
		return stats, fmt.Errorf("count live cache entries failed: %w", err)
	}
	if err := db.Model(&model.EmbeddingCacheEntry{}).Count(&stats.EmbeddingCacheSize).Error; err != nil {
		return stats, fmt.Errorf("count embedding cache failed: %w", err)
	}
	if stats.TotalEntries == 0 {
		return stats, nil
	}

	if err := db.Model(&model.CacheEntry{}).Select("COALESCE(SUM(hit_count), 0)").Scan(&stats.TotalHits).Error; err != nil {
		return stats, fmt.Errorf("sum cache hits failed: %w", err)
	}
	stats.AvgHitCount = float64(stats.TotalHits) / float64(stats.TotalEntries)

	var oldest, newest model.CacheEntry
	if err := db.Select("id", "created_at").Order("created_at ASC").Order("id ASC").Take(&oldest).Error; err != nil {
		return stats, fmt.Errorf("find oldest cache entry failed: %w", err)
	}
	if err := db.Select("id", "created_at").Order("created_at DESC").Order("id DESC").Take(&newest).Error; err != nil {
		return stats, fmt.Errorf("find newest cache entry failed: %w", err)
	}
	stats.OldestEntry = &oldest.CreatedAt
	stats.NewestEntry = &newest.CreatedAt
	return stats, nil
}

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
	previewRunes       = 200
)

type RecentEntry struct {
	ID          uint      `json:"id"`
	Query       string    `json:"query"`
	Response    string    `json:"response"`
	CatalogID   string    `json:"catalog_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	DocumentIDs []string  `json:"document_ids"`
	HitCount    int       `json:"hit_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ListRecent returns entries by recency of use with responses truncated for display.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]RecentEntry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	var rows []model.CacheEntry
	err := s.db.WithContext(ctx).
		Omit("query_embedding").
		Order("last_used DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list recent cache entries failed: %w", err)
	}

	out := make([]RecentEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, RecentEntry{
			ID:          r.ID,
			Query:       r.Query,
			Response:    truncate(r.Response, previewRunes),
			CatalogID:   r.CatalogID,
			UserID:      r.UserID,
			DocumentIDs: r.DocumentIDList(),
			HitCount:    r.HitCount,
			CreatedAt:   r.CreatedAt,
			LastUsed:    r.LastUsed,
			ExpiresAt:   r.ExpiresAt,
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}
