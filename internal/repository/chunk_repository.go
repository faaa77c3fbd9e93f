package repository

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"

	"catalog-rag/internal/model"
	"catalog-rag/internal/similarity"
)

const (
	scanBatchSize         = 500
	defaultVectorCache    = 50000
	maxKeywordCandidates  = 2000
	catalogFolderSubquery = "(chunks.catalog_id = ? OR chunks.folder_id IN (SELECT id FROM folders WHERE catalog_id = ?))"
)

// decodedVector pairs a parsed embedding with the column text it came from,
// so a rewritten chunk never serves a stale vector.
type decodedVector struct {
	raw string
	vec []float32
}

// ChunkRepository serves retrieval scans over the chunks table. Similarity
// search is a linear scan in primary-key batches; decoded vectors are kept in
// an LRU so repeated scans skip JSON parsing.
type ChunkRepository struct {
	db      *gorm.DB
	vectors *lru.Cache[string, decodedVector]
}

func NewChunkRepository(db *gorm.DB, vectorCacheSize int) (*ChunkRepository, error) {
	if vectorCacheSize <= 0 {
		vectorCacheSize = defaultVectorCache
	}
	vectors, err := lru.New[string, decodedVector](vectorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create vector cache failed: %w", err)
	}
	return &ChunkRepository{db: db, vectors: vectors}, nil
}

type chunkRow struct {
	model.Chunk
	DocumentName string
}

func (r *ChunkRepository) base(ctx context.Context, filter model.ChunkFilter) *gorm.DB {
	q := r.db.WithContext(ctx).
		Table("chunks").
		Select("chunks.*, documents.name AS document_name").
		Joins("LEFT JOIN documents ON documents.id = chunks.document_id")
	if len(filter.DocumentIDs) > 0 {
		q = q.Where("chunks.document_id IN ?", filter.DocumentIDs)
	}
	if filter.CatalogID != "" {
		q = q.Where(catalogFolderSubquery, filter.CatalogID, filter.CatalogID)
	}
	if filter.LeadingChunks > 0 {
		q = q.Where("chunks.chunk_index < ?", filter.LeadingChunks)
	}
	return q
}

// ScanBySimilarity returns the k chunks most similar to embedding. Chunks with
// a missing or differently sized embedding are skipped.
func (r *ChunkRepository) ScanBySimilarity(ctx context.Context, embedding []float32, k int, filter model.ChunkFilter) ([]model.ScoredChunk, error) {
	if len(embedding) == 0 || k <= 0 {
		return nil, nil
	}

	var (
		scored []model.ScoredChunk
		lastID string
	)
	for {
		var rows []chunkRow
		err := r.base(ctx, filter).
			Where("chunks.embedding IS NOT NULL AND chunks.embedding <> '' AND chunks.embedding <> '[]'").
			Where("chunks.id > ?", lastID).
			Order("chunks.id ASC").
			Limit(scanBatchSize).
			Find(&rows).Error
		if err != nil {
			return nil, wrapStoreErr("scan chunks by similarity", err)
		}
		for i := range rows {
			vec := r.vector(&rows[i].Chunk)
			score, err := similarity.Cosine(embedding, vec)
			if err != nil || len(vec) == 0 {
				continue
			}
			scored = append(scored, toScored(&rows[i], score))
		}
		if len(rows) < scanBatchSize {
			break
		}
		lastID = rows[len(rows)-1].ID
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	sortByScore(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (r *ChunkRepository) vector(c *model.Chunk) []float32 {
	if cached, ok := r.vectors.Get(c.ID); ok && cached.raw == c.Embedding {
		return cached.vec
	}
	vec, err := model.DecodeVector(c.Embedding)
	if err != nil {
		return nil
	}
	r.vectors.Add(c.ID, decodedVector{raw: c.Embedding, vec: vec})
	return vec
}

// ScanByKeyword matches chunks containing any of terms, case-insensitively.
// The score is the fraction of terms a chunk contains.
func (r *ChunkRepository) ScanByKeyword(ctx context.Context, terms []string, k int, filter model.ChunkFilter) ([]model.ScoredChunk, error) {
	needles := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" && !slices.Contains(needles, t) {
			needles = append(needles, t)
		}
	}
	if len(needles) == 0 || k <= 0 {
		return nil, nil
	}

	clauses := make([]string, len(needles))
	args := make([]any, len(needles))
	for i, n := range needles {
		clauses[i] = `LOWER(chunks.content) LIKE ? ESCAPE '!'`
		args[i] = "%" + escapeLike(n) + "%"
	}

	var rows []chunkRow
	err := r.base(ctx, filter).
		Where("("+strings.Join(clauses, " OR ")+")", args...).
		Order("chunks.document_id ASC").Order("chunks.chunk_index ASC").
		Limit(maxKeywordCandidates).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreErr("scan chunks by keyword", err)
	}

	scored := make([]model.ScoredChunk, 0, len(rows))
	for i := range rows {
		content := strings.ToLower(rows[i].Content)
		matched := 0
		for _, n := range needles {
			if strings.Contains(content, n) {
				matched++
			}
		}
		scored = append(scored, toScored(&rows[i], float64(matched)/float64(len(needles))))
	}
	sortByScore(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// ScanByDocumentPattern returns every chunk of the documents whose name
// contains one of patterns (case-insensitive), in document then position
// order. An empty pattern matches every document. There is no cap: callers
// use this when completeness matters more than ranking.
func (r *ChunkRepository) ScanByDocumentPattern(ctx context.Context, patterns []string, filter model.ChunkFilter) ([]model.ScoredChunk, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	q := r.base(ctx, filter)
	if !slices.Contains(patterns, "") {
		clauses := make([]string, len(patterns))
		args := make([]any, len(patterns))
		for i, p := range patterns {
			clauses[i] = `LOWER(documents.name) LIKE ? ESCAPE '!'`
			args[i] = "%" + escapeLike(strings.ToLower(p)) + "%"
		}
		q = q.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}

	var rows []chunkRow
	err := q.Order("chunks.document_id ASC").Order("chunks.chunk_index ASC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreErr("scan chunks by document pattern", err)
	}
	out := make([]model.ScoredChunk, len(rows))
	for i := range rows {
		out[i] = toScored(&rows[i], 0)
	}
	return out, nil
}

// ListDocuments lists documents visible through filter, ordered by name.
func (r *ChunkRepository) ListDocuments(ctx context.Context, filter model.ChunkFilter) ([]model.DocumentRef, error) {
	q := r.db.WithContext(ctx).Model(&model.Document{}).Select("id", "name")
	if len(filter.DocumentIDs) > 0 {
		q = q.Where("id IN ?", filter.DocumentIDs)
	}
	if filter.CatalogID != "" {
		q = q.Where("(catalog_id = ? OR folder_id IN (SELECT id FROM folders WHERE catalog_id = ?))", filter.CatalogID, filter.CatalogID)
	}
	var refs []model.DocumentRef
	if err := q.Order("name ASC").Order("id ASC").Scan(&refs).Error; err != nil {
		return nil, wrapStoreErr("list documents", err)
	}
	return refs, nil
}

// Ping checks the underlying connection.
func (r *ChunkRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return wrapStoreErr("get chunk store sql db", err)
	}
	return wrapStoreErr("ping chunk store", sqlDB.PingContext(ctx))
}

func toScored(row *chunkRow, score float64) model.ScoredChunk {
	name := row.DocumentName
	meta := decodeMetadata(row.Metadata)
	if name == "" {
		name = meta["filename"]
	}
	return model.ScoredChunk{
		ID:           row.ID,
		DocumentID:   row.DocumentID,
		DocumentName: name,
		ChunkIndex:   row.ChunkIndex,
		Content:      row.Content,
		Metadata:     meta,
		Similarity:   score,
	}
}

func decodeMetadata(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func sortByScore(chunks []model.ScoredChunk) {
	slices.SortStableFunc(chunks, func(a, b model.ScoredChunk) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DocumentID, b.DocumentID); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})
}

func escapeLike(s string) string {
	return strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`).Replace(s)
}
