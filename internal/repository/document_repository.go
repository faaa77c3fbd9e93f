package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"catalog-rag/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&model.Folder{}, &model.Document{}, &model.Chunk{}); err != nil {
		return fmt.Errorf("migrate document tables failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) CreateFolder(ctx context.Context, folder *model.Folder) error {
	if folder.ID == "" {
		folder.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(folder).Error; err != nil {
		return fmt.Errorf("create folder failed: %w", err)
	}
	return nil
}

// Create stores a document together with its chunks.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document, chunks []model.Chunk) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("create document failed: %w", err)
		}
		return createChunks(tx, doc, chunks)
	})
}

// Get returns nil, nil when the document does not exist.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStoreErr("get document", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByCatalog(ctx context.Context, catalogID string) ([]model.Document, error) {
	q := r.db.WithContext(ctx)
	if catalogID != "" {
		q = q.Where("(catalog_id = ? OR folder_id IN (SELECT id FROM folders WHERE catalog_id = ?))", catalogID, catalogID)
	}
	var list []model.Document
	if err := q.Order("name ASC").Find(&list).Error; err != nil {
		return nil, wrapStoreErr("list documents", err)
	}
	return list, nil
}

// ReplaceChunks swaps a document's chunks for a new set in one transaction.
func (r *DocumentRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []model.Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		if err := tx.Where("id = ?", documentID).First(&doc).Error; err != nil {
			return fmt.Errorf("load document for reindex failed: %w", err)
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("delete document chunks failed: %w", err)
		}
		return createChunks(tx, &doc, chunks)
	})
}

// Delete removes a document and its chunks. It reports false when the
// document did not exist.
func (r *DocumentRepository) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("delete document chunks failed: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.Document{})
		if res.Error != nil {
			return fmt.Errorf("delete document failed: %w", res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// DeleteAllChunks empties the chunk table ahead of a full rebuild.
func (r *DocumentRepository) DeleteAllChunks(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Chunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete all chunks failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func createChunks(tx *gorm.DB, doc *model.Document, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.DocumentID = doc.ID
		if c.CatalogID == "" {
			c.CatalogID = doc.CatalogID
		}
		if c.FolderID == "" {
			c.FolderID = doc.FolderID
		}
	}
	if err := tx.CreateInBatches(&chunks, 200).Error; err != nil {
		return fmt.Errorf("create chunks batch failed: %w", err)
	}
	return nil
}
