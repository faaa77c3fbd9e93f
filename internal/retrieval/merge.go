package retrieval

import (
	"cmp"
	"slices"

	"catalog-rag/internal/classifier"
	"catalog-rag/internal/model"
)

// merger keeps the first sighting of every chunk id.
type merger struct {
	seen   map[string]bool
	chunks []model.ScoredChunk
	total  int
	// diverse holds ids merged by the diversity pass; they compete for a
	// reserved share of the budget instead of the relevance ranking.
	diverse map[string]bool
}

func newMerger() *merger {
	return &merger{seen: make(map[string]bool), diverse: make(map[string]bool)}
}

// add merges chunks in order and returns how many were new. Scores below
// floor are raised to it.
func (m *merger) add(chunks []model.ScoredChunk, floor float64) int {
	added := 0
	for _, c := range chunks {
		m.total++
		if m.seen[c.ID] {
			continue
		}
		m.seen[c.ID] = true
		if c.Similarity < floor {
			c.Similarity = floor
		}
		m.chunks = append(m.chunks, c)
		added++
	}
	return added
}

// addDiverse merges chunks at their own score and tags them as diversity
// picks.
func (m *merger) addDiverse(chunks []model.ScoredChunk) int {
	added := m.add(chunks, 0)
	for _, c := range chunks {
		m.diverse[c.ID] = true
	}
	return added
}

// replace discards everything merged so far in favor of chunks.
func (m *merger) replace(chunks []model.ScoredChunk) int {
	m.seen = make(map[string]bool, len(chunks))
	m.diverse = make(map[string]bool)
	m.chunks = nil
	return m.add(chunks, 0)
}

// order applies the final ordering: document then position for counting,
// relevance otherwise. Diversity picks get at most half of the context
// budget while relevant chunks fill it, and only the leftover beyond that.
// It reports whether anything was cut.
func (r *Retriever) order(m *merger, analysis classifier.Analysis) ([]model.ScoredChunk, bool) {
	out := slices.Clone(m.chunks)
	if analysis.IsCountQuery {
		sortByPosition(out)
		if len(out) > r.cfg.CountHardCap {
			return out[:r.cfg.CountHardCap], true
		}
		return out, false
	}

	limit := max(analysis.ContextSize, 0)
	var relevant, diverse []model.ScoredChunk
	for _, c := range out {
		if m.diverse[c.ID] {
			diverse = append(diverse, c)
		} else {
			relevant = append(relevant, c)
		}
	}
	sortBySimilarity(relevant)
	sortBySimilarity(diverse)

	reserved := min(len(diverse), limit/2)
	keep := min(len(relevant), limit-reserved)
	picked := append(relevant[:keep:keep], diverse[:min(len(diverse), limit-keep)]...)
	sortBySimilarity(picked)
	return picked, len(picked) < len(out)
}

func sortBySimilarity(chunks []model.ScoredChunk) {
	slices.SortStableFunc(chunks, func(a, b model.ScoredChunk) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
}

func sortByPosition(chunks []model.ScoredChunk) {
	slices.SortStableFunc(chunks, func(a, b model.ScoredChunk) int {
		if c := cmp.Compare(a.DocumentID, b.DocumentID); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})
}

func uniqueDocuments(chunks []model.ScoredChunk) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, c := range chunks {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			out = append(out, c.DocumentID)
		}
	}
	return out
}
