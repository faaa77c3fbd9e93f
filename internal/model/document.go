package model

import "time"

// Folder groups documents inside a catalog. A catalog filter matches documents
// attached to the catalog directly or through one of its folders.
type Folder struct {
	ID        string    `gorm:"size:64;primaryKey" json:"id"`
	CatalogID string    `gorm:"size:64;not null;index" json:"catalog_id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID        string    `gorm:"size:64;primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null;index" json:"name"`
	CatalogID string    `gorm:"size:64;not null;default:'';index" json:"catalog_id,omitempty"`
	FolderID  string    `gorm:"size:64;not null;default:'';index" json:"folder_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
