package cache

import (
	"context"

	"catalog-rag/internal/model"
	"catalog-rag/internal/similarity"
)

// LookupSemantic scans the most recently used live entries in scope and
// returns the best one scoring at least threshold. A threshold <= 0 uses the
// configured default. Candidates are visited newest first and only a strictly
// higher score displaces the current best, so ties go to the most recent entry.
func (s *Store) LookupSemantic(ctx context.Context, embedding []float32, catalogID, userID string, threshold float64) Lookup {
	if len(embedding) == 0 {
		return Lookup{Status: Miss}
	}
	if threshold <= 0 {
		threshold = s.opts.SemanticThreshold
	}

	var candidates []model.CacheEntry
	err := s.db.WithContext(ctx).
		Where("catalog_id = ? AND user_id = ? AND expires_at > ?", catalogID, userID, s.now()).
		Order("last_used DESC").Order("id DESC").
		Limit(s.opts.SemanticScanLimit).
		Find(&candidates).Error
	if err != nil {
		s.metrics.RecordCacheLookup("semantic", TierDurable, "error")
		return Lookup{Status: Degraded, Err: soft("lookup_semantic", TierDurable, err)}
	}

	var (
		best      *model.CacheEntry
		bestScore float64
	)
	for i := range candidates {
		c := &candidates[i]
		vec, err := model.DecodeVector(c.QueryEmbedding)
		if err != nil || len(vec) == 0 {
			s.log.WithField("entry_id", c.ID).Debug("skip cache entry with unusable embedding")
			continue
		}
		score, err := similarity.Cosine(embedding, vec)
		if err != nil {
			s.log.WithError(err).WithField("entry_id", c.ID).Debug("skip cache entry with mismatched embedding")
			continue
		}
		if score >= threshold && (best == nil || score > bestScore) {
			best, bestScore = c, score
		}
	}

	if best == nil {
		s.metrics.RecordCacheLookup("semantic", TierDurable, "miss")
		return Lookup{Status: Miss}
	}
	s.metrics.RecordCacheLookup("semantic", TierDurable, "hit")
	return Lookup{Status: Hit, Entry: best, Tier: TierDurable, Score: bestScore}
}
