package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Chunk stores a text chunk and its embedding for retrieval.
// Chunks of one document are totally ordered by ChunkIndex.
type Chunk struct {
	ID         string         `gorm:"size:64;primaryKey" json:"id"`
	DocumentID string         `gorm:"size:64;not null;uniqueIndex:idx_chunk_doc_pos,priority:1" json:"document_id"`
	ChunkIndex int            `gorm:"not null;uniqueIndex:idx_chunk_doc_pos,priority:2" json:"chunk_index"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	Embedding  string         `gorm:"type:mediumtext" json:"-"` // JSON array of float32
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	CatalogID  string         `gorm:"size:64;not null;default:'';index" json:"catalog_id,omitempty"`
	FolderID   string         `gorm:"size:64;not null;default:'';index" json:"folder_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	vec, _ := DecodeVector(c.Embedding)
	return vec
}

// SetEmbedding stores the embedding as JSON.
func (c *Chunk) SetEmbedding(vec []float32) {
	c.Embedding = EncodeVector(vec)
}

// EncodeVector serializes a vector the way every embedding column stores it.
func EncodeVector(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(vec)
	return string(b)
}

// DecodeVector parses a stored embedding column.
func DecodeVector(raw string) ([]float32, error) {
	if raw == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode embedding failed: %w", err)
	}
	return v, nil
}
