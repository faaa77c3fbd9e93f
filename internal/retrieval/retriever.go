// Package retrieval turns a classified question into a fused, deduplicated
// and budget-limited list of chunks.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"catalog-rag/internal/classifier"
	"catalog-rag/internal/metrics"
	"catalog-rag/internal/model"
)

// ErrStoreUnavailable marks a chunk store that cannot be reached at all. It is
// the only retrieval failure that aborts a search.
var ErrStoreUnavailable = errors.New("chunk store unavailable")

type ChunkStore interface {
	ScanBySimilarity(ctx context.Context, embedding []float32, k int, filter model.ChunkFilter) ([]model.ScoredChunk, error)
	ScanByKeyword(ctx context.Context, terms []string, k int, filter model.ChunkFilter) ([]model.ScoredChunk, error)
	ScanByDocumentPattern(ctx context.Context, patterns []string, filter model.ChunkFilter) ([]model.ScoredChunk, error)
	ListDocuments(ctx context.Context, filter model.ChunkFilter) ([]model.DocumentRef, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	SubQueryTimeout      time.Duration
	ScanTimeout          time.Duration
	MaxConcurrency       int
	KeywordBoostFloor    float64
	MasterDocCeiling     int
	CountHardCap         int
	TOCChunksPerDocument int
	DiversityPerDocument int
	DiversityCandidates  int
	MasterDocPatterns    []string
	InventoryPatterns    []string
}

func DefaultConfig() Config {
	return Config{
		SubQueryTimeout:      20 * time.Second,
		ScanTimeout:          60 * time.Second,
		MaxConcurrency:       8,
		KeywordBoostFloor:    0.85,
		MasterDocCeiling:     100,
		CountHardCap:         3000,
		TOCChunksPerDocument: 3,
		DiversityPerDocument: 2,
		DiversityCandidates:  200,
		MasterDocPatterns:    []string{"master", "compilado", "completo", "lista completa", "todos os produtos"},
		InventoryPatterns:    []string{"catalogo", "catálogo", "inventario", "inventário", "lista", "portfolio", "linha de produtos"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SubQueryTimeout <= 0 {
		c.SubQueryTimeout = d.SubQueryTimeout
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = d.ScanTimeout
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.KeywordBoostFloor <= 0 {
		c.KeywordBoostFloor = d.KeywordBoostFloor
	}
	if c.MasterDocCeiling <= 0 {
		c.MasterDocCeiling = d.MasterDocCeiling
	}
	if c.CountHardCap <= 0 {
		c.CountHardCap = d.CountHardCap
	}
	if c.TOCChunksPerDocument <= 0 {
		c.TOCChunksPerDocument = d.TOCChunksPerDocument
	}
	if c.DiversityPerDocument <= 0 {
		c.DiversityPerDocument = d.DiversityPerDocument
	}
	if c.DiversityCandidates <= 0 {
		c.DiversityCandidates = d.DiversityCandidates
	}
	if len(c.MasterDocPatterns) == 0 {
		c.MasterDocPatterns = d.MasterDocPatterns
	}
	if len(c.InventoryPatterns) == 0 {
		c.InventoryPatterns = d.InventoryPatterns
	}
	return c
}

type QueryKind string

const (
	KindSemantic       QueryKind = "semantic"
	KindKeyword        QueryKind = "keyword"
	KindMasterDocument QueryKind = "master_document"
	KindFullScan       QueryKind = "full_scan"
	KindTOC            QueryKind = "toc"
	KindDiversity      QueryKind = "diversity"
)

// QueryReport describes one sub-operation of a search.
type QueryReport struct {
	Query    string    `json:"query"`
	Kind     QueryKind `json:"kind"`
	Returned int       `json:"returned"`
	Added    int       `json:"added"`
	Error    string    `json:"error,omitempty"`
}

type Result struct {
	Chunks           []model.ScoredChunk `json:"chunks"`
	UniqueDocuments  []string            `json:"unique_documents"`
	TotalBeforeDedup int                 `json:"total_before_dedup"`
	QueryBreakdown   []QueryReport       `json:"query_breakdown"`
	MasterDocument   bool                `json:"master_document,omitempty"`
	Truncated        bool                `json:"truncated,omitempty"`
}

// DocumentIDs returns the distinct documents cited by the result.
func (r *Result) DocumentIDs() []string {
	return r.UniqueDocuments
}

type Retriever struct {
	store    ChunkStore
	embedder Embedder
	cfg      Config
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

func New(store ChunkStore, embedder Embedder, cfg Config, log logrus.FieldLogger, m *metrics.Metrics) *Retriever {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		log:      log.WithField("component", "retrieval"),
		metrics:  m,
	}
}

func (r *Retriever) Config() Config {
	return r.cfg
}

// subResult is what one concurrent sub-query produced.
type subResult struct {
	chunks []model.ScoredChunk
	err    error
}

// Search runs the hybrid retrieval for question. Sub-query failures and
// timeouts contribute nothing and are reported in QueryBreakdown; only an
// unreachable store or caller cancellation fails the search.
func (r *Retriever) Search(ctx context.Context, question string, analysis classifier.Analysis, catalogID string) (*Result, error) {
	start := time.Now()
	res := &Result{Chunks: []model.ScoredChunk{}, UniqueDocuments: []string{}}
	if analysis.Type == classifier.TypeGreeting {
		return res, nil
	}

	plan := buildPlan(question, analysis)
	filter := model.ChunkFilter{CatalogID: catalogID}
	log := r.log.WithFields(logrus.Fields{"query_type": analysis.Type, "catalog_id": catalogID})

	semantic := make([]subResult, len(plan.queries))
	keyword := make([]subResult, len(plan.keywordTargets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for i, q := range plan.queries {
		g.Go(func() error {
			chunks, err := r.semanticQuery(gctx, q, plan.perQuery, filter)
			semantic[i] = subResult{chunks: chunks, err: err}
			return fatal(err)
		})
	}
	for i, term := range plan.keywordTargets {
		g.Go(func() error {
			chunks, err := r.keywordQuery(gctx, term, plan.perQuery, filter)
			keyword[i] = subResult{chunks: chunks, err: err}
			return fatal(err)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := newMerger()
	for i, q := range plan.queries {
		res.QueryBreakdown = append(res.QueryBreakdown, r.collect(log, m, q, KindSemantic, semantic[i], 0))
	}
	for i, term := range plan.keywordTargets {
		res.QueryBreakdown = append(res.QueryBreakdown, r.collect(log, m, term, KindKeyword, keyword[i], r.cfg.KeywordBoostFloor))
	}

	if analysis.RequiresFullScan || analysis.IsCountQuery {
		if err := r.expandAggregation(ctx, log, analysis, filter, m, res); err != nil {
			return nil, err
		}
	}
	if analysis.Type == classifier.TypeRecommendation {
		if err := r.expandDiversity(ctx, log, filter, m, res); err != nil {
			return nil, err
		}
	}

	res.TotalBeforeDedup = m.total
	res.Chunks, res.Truncated = r.order(m, analysis)
	if res.Truncated && analysis.IsCountQuery {
		log.WithFields(logrus.Fields{"kept": len(res.Chunks), "found": len(m.chunks)}).Info("count query result truncated to hard cap")
	}
	res.UniqueDocuments = uniqueDocuments(res.Chunks)

	r.metrics.RecordRetrieval(string(analysis.Type), time.Since(start).Seconds(), len(res.Chunks))
	log.WithFields(logrus.Fields{
		"queries":   len(plan.queries),
		"keywords":  len(plan.keywordTargets),
		"chunks":    len(res.Chunks),
		"documents": len(res.UniqueDocuments),
		"elapsed":   time.Since(start).String(),
	}).Debug("retrieval finished")
	return res, nil
}

func (r *Retriever) semanticQuery(ctx context.Context, query string, k int, filter model.ChunkFilter) ([]model.ScoredChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SubQueryTimeout)
	defer cancel()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed sub-query failed: %w", err)
	}
	return r.store.ScanBySimilarity(ctx, vec, k, filter)
}

func (r *Retriever) keywordQuery(ctx context.Context, term string, k int, filter model.ChunkFilter) ([]model.ScoredChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SubQueryTimeout)
	defer cancel()
	return r.store.ScanByKeyword(ctx, []string{term}, k, filter)
}

// collect merges one sub-query outcome and reports it.
func (r *Retriever) collect(log logrus.FieldLogger, m *merger, query string, kind QueryKind, sr subResult, floor float64) QueryReport {
	report := QueryReport{Query: query, Kind: kind}
	if sr.err != nil {
		r.metrics.RecordSubQueryFailure(string(kind))
		log.WithError(sr.err).WithFields(logrus.Fields{"sub_query": query, "kind": kind}).Warn("retrieval sub-query failed")
		report.Error = sr.err.Error()
		return report
	}
	report.Returned = len(sr.chunks)
	report.Added = m.add(sr.chunks, floor)
	return report
}

// fatal passes through only the errors that must abort the whole search.
func fatal(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return nil
}
