package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"catalog-rag/internal/ai"
	"catalog-rag/internal/app"
	"catalog-rag/internal/cache"
	"catalog-rag/internal/retrieval"
	"catalog-rag/internal/transport/http/response"
)

// writeError maps service errors onto the response envelope. fallback is the
// message for anything unexpected, so internals never leak to callers.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, cache.ErrEmptyScope):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, "document not found")
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, response.CodeTimeout, "request timed out")
	case errors.Is(err, retrieval.ErrStoreUnavailable),
		errors.Is(err, ai.ErrEmbeddingUnavailable),
		errors.Is(err, cache.ErrTierUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, "dependency unavailable, try again later")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
	_ = c.Error(err)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return false
	}
	return true
}
