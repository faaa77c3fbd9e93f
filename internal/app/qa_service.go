package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-rag/internal/cache"
	"catalog-rag/internal/classifier"
	"catalog-rag/internal/model"
	"catalog-rag/internal/retrieval"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentNotFound = errors.New("document not found")
)

const (
	CacheExact    = "exact"
	CacheSemantic = "semantic"
	CacheMiss     = "miss"
	CacheDegraded = "degraded"
	// CacheBypass marks answers that never touch the cache (greetings).
	CacheBypass = "bypass"
)

const (
	greetingAnswer  = "Olá! Posso ajudar com dúvidas sobre o catálogo de produtos."
	noContextAnswer = "Não encontrei informações sobre isso nos documentos do catálogo."
)

type QueryCache interface {
	LookupExact(ctx context.Context, queryHash, catalogID, userID string) cache.Lookup
	LookupSemantic(ctx context.Context, embedding []float32, catalogID, userID string, threshold float64) cache.Lookup
	RecordHit(ctx context.Context, entryID uint) error
	Save(ctx context.Context, rec cache.Record) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, question string, analysis classifier.Analysis, catalogID string) (*retrieval.Result, error)
}

type AnswerGenerator interface {
	Generate(ctx context.Context, question string, chunks []model.ScoredChunk) (string, error)
}

// QAService answers catalog questions: classify, consult the cache, retrieve,
// generate and memoize.
type QAService struct {
	cache     QueryCache
	embedder  Embedder
	retriever Searcher
	generator AnswerGenerator
	log       logrus.FieldLogger
}

func NewQAService(c QueryCache, embedder Embedder, retriever Searcher, generator AnswerGenerator, log logrus.FieldLogger) *QAService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &QAService{cache: c, embedder: embedder, retriever: retriever, generator: generator, log: log}
}

type AskInput struct {
	Question  string
	CatalogID string
	UserID    string
}

type AskResult struct {
	Answer         string                  `json:"answer"`
	CacheStatus    string                  `json:"cache_status"`
	Similarity     float64                 `json:"similarity,omitempty"`
	Analysis       classifier.Analysis     `json:"analysis"`
	Sources        []string                `json:"sources"`
	DocumentIDs    []string                `json:"document_ids"`
	ChunkCount     int                     `json:"chunk_count"`
	QueryBreakdown []retrieval.QueryReport `json:"query_breakdown,omitempty"`
	ElapsedMS      int64                   `json:"elapsed_ms"`
}

func (s *QAService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	start := time.Now()
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}

	analysis := classifier.Classify(question)
	out := &AskResult{Analysis: analysis, CacheStatus: CacheMiss}
	defer func() { out.ElapsedMS = time.Since(start).Milliseconds() }()

	if analysis.Type == classifier.TypeGreeting {
		out.Answer = greetingAnswer
		out.CacheStatus = CacheBypass
		return out, nil
	}

	log := s.log.WithFields(logrus.Fields{"catalog_id": input.CatalogID, "user_id": input.UserID, "type": analysis.Type})
	degraded := false

	hash := cache.HashText(question)
	exact := s.cache.LookupExact(ctx, hash, input.CatalogID, input.UserID)
	if exact.IsHit() {
		s.serveHit(ctx, log, out, exact, CacheExact)
		return out, nil
	}
	degraded = s.noteDegraded(log, exact) || degraded

	embedding, err := s.embedder.Embed(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Warn("question embedding failed, skipping semantic cache")
	} else {
		semantic := s.cache.LookupSemantic(ctx, embedding, input.CatalogID, input.UserID, 0)
		if semantic.IsHit() {
			s.serveHit(ctx, log, out, semantic, CacheSemantic)
			return out, nil
		}
		degraded = s.noteDegraded(log, semantic) || degraded
	}
	if degraded {
		out.CacheStatus = CacheDegraded
	}

	res, err := s.retriever.Search(ctx, question, analysis, input.CatalogID)
	if err != nil {
		return nil, fmt.Errorf("retrieve context failed: %w", err)
	}
	out.ChunkCount = len(res.Chunks)
	out.DocumentIDs = res.DocumentIDs()
	out.Sources = documentNames(res.Chunks)
	out.QueryBreakdown = res.QueryBreakdown

	if len(res.Chunks) == 0 {
		out.Answer = noContextAnswer
		return out, nil
	}

	answer, err := s.generator.Generate(ctx, question, res.Chunks)
	if err != nil {
		return nil, fmt.Errorf("generate answer failed: %w", err)
	}
	out.Answer = answer
	// an interrupted request must not leave a half-finished answer behind
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = s.cache.Save(ctx, cache.Record{
		Query:       question,
		Embedding:   embedding,
		Response:    answer,
		Sources:     out.Sources,
		DocumentIDs: out.DocumentIDs,
		CatalogID:   input.CatalogID,
		UserID:      input.UserID,
	})
	if err != nil {
		log.WithError(err).Warn("store answer in cache failed")
	}
	return out, nil
}

func (s *QAService) serveHit(ctx context.Context, log logrus.FieldLogger, out *AskResult, l cache.Lookup, status string) {
	out.Answer = l.Entry.Response
	out.CacheStatus = status
	out.Similarity = l.Score
	out.Sources = l.Entry.SourceList()
	out.DocumentIDs = l.Entry.DocumentIDList()
	if err := s.cache.RecordHit(ctx, l.Entry.ID); err != nil {
		log.WithError(err).Warn("record cache hit failed")
	}
	log.WithFields(logrus.Fields{"cache": status, "tier": l.Tier, "entry_id": l.Entry.ID}).Debug("served from cache")
}

func (s *QAService) noteDegraded(log logrus.FieldLogger, l cache.Lookup) bool {
	if l.Status != cache.Degraded {
		return false
	}
	log.WithError(l.Err).Warn("cache lookup degraded")
	return true
}

type SearchInput struct {
	Question  string
	CatalogID string
}

type SearchResult struct {
	Analysis classifier.Analysis `json:"analysis"`
	*retrieval.Result
}

// Search runs retrieval only, without cache or generation.
func (s *QAService) Search(ctx context.Context, input SearchInput) (*SearchResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}
	analysis := classifier.Classify(question)
	res, err := s.retriever.Search(ctx, question, analysis, input.CatalogID)
	if err != nil {
		return nil, fmt.Errorf("retrieve context failed: %w", err)
	}
	return &SearchResult{Analysis: analysis, Result: res}, nil
}

func (s *QAService) Classify(question string) (classifier.Analysis, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return classifier.Analysis{}, ErrInvalidInput
	}
	return classifier.Classify(question), nil
}

func documentNames(chunks []model.ScoredChunk) []string {
	seen := make(map[string]bool)
	var names []string
	for _, c := range chunks {
		name := c.DocumentName
		if name == "" {
			name = c.DocumentID
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
