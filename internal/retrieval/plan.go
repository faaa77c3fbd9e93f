package retrieval

import (
	"slices"
	"strings"

	"catalog-rag/internal/classifier"
)

type plan struct {
	queries        []string
	keywordTargets []string
	perQuery       int
}

// buildPlan expands the question into the semantic query list and the exact
// keyword targets. Product codes are added in every surface form because
// embeddings rarely tell "VSF30S" and "VSF-30S" apart from noise.
func buildPlan(question string, analysis classifier.Analysis) plan {
	var p plan
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q != "" && !slices.Contains(p.queries, q) {
			p.queries = append(p.queries, q)
		}
	}

	add(question)
	for _, q := range analysis.SuggestedQueries {
		add(q)
	}
	for _, code := range classifier.FindProductCodes(question) {
		for _, v := range code.Variants() {
			add(v)
			if !slices.Contains(p.keywordTargets, v) {
				p.keywordTargets = append(p.keywordTargets, v)
			}
		}
	}

	p.perQuery = 1
	if n := len(p.queries); n > 0 && analysis.ContextSize > 0 {
		p.perQuery = (analysis.ContextSize + n - 1) / n
	}
	return p
}
