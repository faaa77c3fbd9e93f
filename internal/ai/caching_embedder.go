package ai

import (
	"context"

	"github.com/sirupsen/logrus"

	"catalog-rag/internal/cache"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache is the slice of cache.Store the embedder needs.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) cache.EmbeddingLookup
	PutEmbedding(ctx context.Context, text string, vec []float32) error
}

// CachingEmbedder consults the embedding cache before calling the provider
// and writes fresh vectors back. Cache failures only cost a provider call.
type CachingEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	log   logrus.FieldLogger
}

func NewCachingEmbedder(next Embedder, c EmbeddingCache, log logrus.FieldLogger) *CachingEmbedder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CachingEmbedder{next: next, cache: c, log: log}
}

func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lookup := e.cache.GetEmbedding(ctx, text)
	if lookup.Status == cache.Hit && len(lookup.Vector) > 0 {
		return lookup.Vector, nil
	}
	if lookup.Err != nil {
		e.log.WithError(lookup.Err).Warn("embedding cache read degraded")
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.PutEmbedding(ctx, text, vec); err != nil {
		e.log.WithError(err).Warn("embedding cache write failed")
	}
	return vec, nil
}
