package model

// ChunkFilter narrows chunk-store scans. CatalogID matches a direct catalog
// association OR a folder that belongs to the catalog.
type ChunkFilter struct {
	DocumentIDs []string
	CatalogID   string
	// LeadingChunks > 0 keeps only chunks with ChunkIndex < LeadingChunks.
	LeadingChunks int
}

// ScoredChunk is a chunk as returned by a scan, with the score the scan assigned.
type ScoredChunk struct {
	ID           string            `json:"id"`
	DocumentID   string            `json:"document_id"`
	DocumentName string            `json:"document_name"`
	ChunkIndex   int               `json:"chunk_index"`
	Content      string            `json:"content"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Similarity   float64           `json:"similarity"`
}

type DocumentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
