package classifier

type QueryType string

const (
	TypeAggregation    QueryType = "aggregation"
	TypeFactual        QueryType = "factual"
	TypeComparative    QueryType = "comparative"
	TypeExploratory    QueryType = "exploratory"
	TypeProcedural     QueryType = "procedural"
	TypeGreeting       QueryType = "greeting"
	TypeRecommendation QueryType = "recommendation"
	TypeGeneral        QueryType = "general"
)

// Analysis describes how a question should be searched. It is derived from the
// question text alone and never persisted.
type Analysis struct {
	Type             QueryType `json:"type"`
	ContextSize      int       `json:"context_size"`
	NeedsMultiQuery  bool      `json:"needs_multi_query"`
	SuggestedQueries []string  `json:"suggested_queries"`
	Categories       []string  `json:"categories"`
	Keywords         []string  `json:"keywords"`
	IsCountQuery     bool      `json:"is_count_query"`
	RequiresFullScan bool      `json:"requires_full_scan"`
}

var baseContextSize = map[QueryType]int{
	TypeAggregation:    40,
	TypeFactual:        8,
	TypeComparative:    16,
	TypeExploratory:    12,
	TypeProcedural:     10,
	TypeGreeting:       0,
	TypeRecommendation: 20,
	TypeGeneral:        8,
}

const (
	// countContextFloor widens the budget of any counting question.
	countContextFloor = 60
	// scopedAggregationCeiling narrows aggregation questions that name a category.
	scopedAggregationCeiling = 25
)

var multiQueryTypes = map[QueryType]bool{
	TypeAggregation:    true,
	TypeComparative:    true,
	TypeExploratory:    true,
	TypeRecommendation: true,
}

// BaseContextSize exposes the per-type chunk budget table.
func BaseContextSize(t QueryType) int {
	return baseContextSize[t]
}
