package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"catalog-rag/internal/cache"
	"catalog-rag/internal/transport/http/response"
)

type CacheAdmin interface {
	GetStats(ctx context.Context) (cache.Stats, error)
	ListRecent(ctx context.Context, limit int) ([]cache.RecentEntry, error)
	ClearAll(ctx context.Context) (cache.ClearResult, error)
	CleanupExpired(ctx context.Context) (int64, error)
	InvalidateByDocument(ctx context.Context, documentID string) (int64, error)
	InvalidateByCatalog(ctx context.Context, catalogID string) (int64, error)
	InvalidateByUser(ctx context.Context, userID string) (int64, error)
}

type CacheAdminHandler struct {
	cache CacheAdmin
	log   logrus.FieldLogger
}

func NewCacheAdminHandler(c CacheAdmin, log logrus.FieldLogger) *CacheAdminHandler {
	return &CacheAdminHandler{cache: c, log: log.WithField("component", "cache_admin")}
}

func (h *CacheAdminHandler) Stats(c *gin.Context) {
	stats, err := h.cache.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, err, "load cache stats failed")
		return
	}
	response.OK(c, stats)
}

func (h *CacheAdminHandler) Recent(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.cache.ListRecent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "list recent cache entries failed")
		return
	}
	response.OK(c, gin.H{"entries": entries, "count": len(entries)})
}

func (h *CacheAdminHandler) Clear(c *gin.Context) {
	result, err := h.cache.ClearAll(c.Request.Context())
	if err != nil {
		writeError(c, err, "clear cache failed")
		return
	}
	h.log.WithField("request_id", c.GetString(response.RequestIDKey)).
		WithField("queries", result.Queries).Warn("cache cleared by admin")
	response.OK(c, result)
}

func (h *CacheAdminHandler) Cleanup(c *gin.Context) {
	deleted, err := h.cache.CleanupExpired(c.Request.Context())
	if err != nil {
		writeError(c, err, "cleanup expired entries failed")
		return
	}
	response.OK(c, gin.H{"deleted": deleted})
}

func (h *CacheAdminHandler) InvalidateDocument(c *gin.Context) {
	h.invalidate(c, "document", h.cache.InvalidateByDocument)
}

func (h *CacheAdminHandler) InvalidateCatalog(c *gin.Context) {
	h.invalidate(c, "catalog", h.cache.InvalidateByCatalog)
}

func (h *CacheAdminHandler) InvalidateUser(c *gin.Context) {
	h.invalidate(c, "user", h.cache.InvalidateByUser)
}

func (h *CacheAdminHandler) invalidate(c *gin.Context, scope string, fn func(context.Context, string) (int64, error)) {
	id := c.Param("id")
	n, err := fn(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "invalidate "+scope+" failed")
		return
	}
	response.OK(c, gin.H{"scope": scope, "id": id, "invalidated": n})
}
