package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// CacheEntry is one memoized answer. At most one row exists per
// (QueryHash, CatalogID, UserID); an empty scope string means "unscoped".
type CacheEntry struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	QueryHash      string         `gorm:"size:64;not null;uniqueIndex:idx_cache_scope,priority:1" json:"query_hash"`
	CatalogID      string         `gorm:"size:64;not null;default:'';uniqueIndex:idx_cache_scope,priority:2;index" json:"catalog_id,omitempty"`
	UserID         string         `gorm:"size:64;not null;default:'';uniqueIndex:idx_cache_scope,priority:3;index" json:"user_id,omitempty"`
	Query          string         `gorm:"type:text;not null" json:"query"`
	QueryEmbedding string         `gorm:"type:mediumtext" json:"-"`
	Response       string         `gorm:"type:mediumtext;not null" json:"response"`
	Sources        datatypes.JSON `json:"sources,omitempty"`
	DocumentIDs    datatypes.JSON `json:"document_ids,omitempty"`
	HitCount       int            `gorm:"not null;default:0" json:"hit_count"`
	CreatedAt      time.Time      `json:"created_at"`
	LastUsed       time.Time      `gorm:"not null;index" json:"last_used"`
	ExpiresAt      time.Time      `gorm:"not null;index" json:"expires_at"`
}

func (CacheEntry) TableName() string {
	return "query_cache"
}

// Live reports whether the entry can still be served at now.
func (e *CacheEntry) Live(now time.Time) bool {
	return e.ExpiresAt.After(now)
}

func (e *CacheEntry) SourceList() []string {
	return decodeStrings(e.Sources)
}

func (e *CacheEntry) DocumentIDList() []string {
	return decodeStrings(e.DocumentIDs)
}

// EmbeddingCacheEntry maps a text hash to its embedding. Content-addressed,
// so document changes never invalidate it.
type EmbeddingCacheEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TextHash  string    `gorm:"size:64;not null;uniqueIndex" json:"text_hash"`
	Embedding string    `gorm:"type:mediumtext;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

func (EmbeddingCacheEntry) TableName() string {
	return "embedding_cache"
}

// StringsJSON encodes a string set for a JSON column.
func StringsJSON(values []string) datatypes.JSON {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return datatypes.JSON(b)
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
