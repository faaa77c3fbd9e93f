package model

// Inbound event types, published by the ingestion pipeline before it mutates
// documents.
const (
	EventDocumentDeleting   = "document.deleting"
	EventDocumentReindexing = "document.reindexing"
	EventCatalogChanged     = "catalog.changed"
	EventUserPurged         = "user.purged"
	EventIndexRebuilt       = "index.rebuilt"
)

// Outbound event types, published after this service mutated the chunk store.
const (
	EventDocumentDeleted   = "document.deleted"
	EventDocumentReindexed = "document.reindexed"
	EventIndexCleared      = "index.cleared"
)

// DocumentEvent is the JSON payload exchanged over the document event queues.
type DocumentEvent struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id,omitempty"`
	CatalogID  string `json:"catalog_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}
