package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"catalog-rag/internal/cache"
	"catalog-rag/internal/model"
)

type DocumentStore interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	Delete(ctx context.Context, id string) (bool, error)
	ReplaceChunks(ctx context.Context, documentID string, chunks []model.Chunk) error
	DeleteAllChunks(ctx context.Context) (int64, error)
}

type DocumentCache interface {
	InvalidateByDocument(ctx context.Context, documentID string) (int64, error)
	ClearAll(ctx context.Context) (cache.ClearResult, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event model.DocumentEvent) error
}

// DocumentService mutates indexed documents. Cached answers citing a document
// are removed before its chunks change; if that fails the mutation is refused.
type DocumentService struct {
	docs      DocumentStore
	cache     DocumentCache
	publisher EventPublisher
	log       logrus.FieldLogger
}

func NewDocumentService(docs DocumentStore, c DocumentCache, publisher EventPublisher, log logrus.FieldLogger) *DocumentService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DocumentService{docs: docs, cache: c, publisher: publisher, log: log}
}

type MutationResult struct {
	DocumentID         string `json:"document_id"`
	InvalidatedEntries int64  `json:"invalidated_entries"`
}

func (s *DocumentService) DeleteDocument(ctx context.Context, documentID string) (*MutationResult, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.requireDocument(ctx, documentID); err != nil {
		return nil, err
	}

	invalidated, err := s.cache.InvalidateByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("invalidate cache before delete failed: %w", err)
	}
	deleted, err := s.docs.Delete(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrDocumentNotFound
	}
	invalidated += s.resweep(ctx, documentID)

	s.publish(ctx, model.DocumentEvent{Type: model.EventDocumentDeleted, DocumentID: documentID})
	s.log.WithFields(logrus.Fields{"document_id": documentID, "invalidated": invalidated}).Info("document deleted")
	return &MutationResult{DocumentID: documentID, InvalidatedEntries: invalidated}, nil
}

// ReindexDocument swaps a document's chunks for a freshly embedded set.
func (s *DocumentService) ReindexDocument(ctx context.Context, documentID string, chunks []model.Chunk) (*MutationResult, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.requireDocument(ctx, documentID); err != nil {
		return nil, err
	}

	invalidated, err := s.cache.InvalidateByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("invalidate cache before reindex failed: %w", err)
	}
	if err := s.docs.ReplaceChunks(ctx, documentID, chunks); err != nil {
		return nil, err
	}
	invalidated += s.resweep(ctx, documentID)

	s.publish(ctx, model.DocumentEvent{Type: model.EventDocumentReindexed, DocumentID: documentID})
	s.log.WithFields(logrus.Fields{"document_id": documentID, "chunks": len(chunks), "invalidated": invalidated}).Info("document reindexed")
	return &MutationResult{DocumentID: documentID, InvalidatedEntries: invalidated}, nil
}

type ReindexAllResult struct {
	Cache         cache.ClearResult `json:"cache"`
	DeletedChunks int64             `json:"deleted_chunks"`
}

// ReindexAll wipes every cache tier and then every chunk, ahead of a full
// re-ingestion.
func (s *DocumentService) ReindexAll(ctx context.Context) (*ReindexAllResult, error) {
	cleared, err := s.cache.ClearAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("clear cache before rebuild failed: %w", err)
	}
	deleted, err := s.docs.DeleteAllChunks(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, model.DocumentEvent{Type: model.EventIndexCleared})
	s.log.WithFields(logrus.Fields{"chunks": deleted, "queries": cleared.Queries}).Warn("index cleared")
	return &ReindexAllResult{Cache: cleared, DeletedChunks: deleted}, nil
}

func (s *DocumentService) requireDocument(ctx context.Context, documentID string) error {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	return nil
}

// resweep catches answers cached by requests that read the old chunks while
// the mutation was running.
func (s *DocumentService) resweep(ctx context.Context, documentID string) int64 {
	n, err := s.cache.InvalidateByDocument(ctx, documentID)
	if err != nil {
		s.log.WithError(err).WithField("document_id", documentID).Error("cache re-sweep after mutation failed")
	}
	return n
}

func (s *DocumentService) publish(ctx context.Context, event model.DocumentEvent) {
	if s.publisher == nil {
		return
	}
	if id, ok := RequestIDFrom(ctx); ok {
		event.RequestID = id
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithField("event", event.Type).Warn("publish document event failed")
	}
}
