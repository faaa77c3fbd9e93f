package handler

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"catalog-rag/internal/app"
	"catalog-rag/internal/model"
	"catalog-rag/internal/transport/http/response"
)

type DocumentService interface {
	DeleteDocument(ctx context.Context, documentID string) (*app.MutationResult, error)
	ReindexDocument(ctx context.Context, documentID string, chunks []model.Chunk) (*app.MutationResult, error)
	ReindexAll(ctx context.Context) (*app.ReindexAllResult, error)
}

type DocumentHandler struct {
	documents DocumentService
}

type ChunkPayload struct {
	Content   string            `json:"content" binding:"required"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata"`
}

type ReindexDocumentRequest struct {
	Chunks []ChunkPayload `json:"chunks" binding:"required,dive"`
}

func NewDocumentHandler(documents DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	result, err := h.documents.DeleteDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, result)
}

// Reindex replaces a document's chunks with the submitted set, in order.
func (h *DocumentHandler) Reindex(c *gin.Context) {
	var req ReindexDocumentRequest
	if !bindJSON(c, &req) {
		return
	}
	chunks := make([]model.Chunk, 0, len(req.Chunks))
	for i, p := range req.Chunks {
		chunk := model.Chunk{ChunkIndex: i, Content: p.Content}
		chunk.SetEmbedding(p.Embedding)
		if len(p.Metadata) > 0 {
			raw, err := json.Marshal(p.Metadata)
			if err != nil {
				writeError(c, err, "encode chunk metadata failed")
				return
			}
			chunk.Metadata = raw
		}
		chunks = append(chunks, chunk)
	}

	result, err := h.documents.ReindexDocument(c.Request.Context(), c.Param("id"), chunks)
	if err != nil {
		writeError(c, err, "reindex document failed")
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) ReindexAll(c *gin.Context) {
	result, err := h.documents.ReindexAll(c.Request.Context())
	if err != nil {
		writeError(c, err, "clear index failed")
		return
	}
	response.OK(c, result)
}
