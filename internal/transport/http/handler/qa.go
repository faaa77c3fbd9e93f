package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"catalog-rag/internal/app"
	"catalog-rag/internal/classifier"
	"catalog-rag/internal/transport/http/middleware"
	"catalog-rag/internal/transport/http/response"
)

type QAService interface {
	Ask(ctx context.Context, input app.AskInput) (*app.AskResult, error)
	Search(ctx context.Context, input app.SearchInput) (*app.SearchResult, error)
	Classify(question string) (classifier.Analysis, error)
}

type QAHandler struct {
	qa      QAService
	timeout time.Duration
}

type AskRequest struct {
	Question  string `json:"question" binding:"required,max=4000"`
	CatalogID string `json:"catalog_id" binding:"max=64"`
}

type ClassifyRequest struct {
	Question string `json:"question" binding:"required,max=4000"`
}

// NewQAHandler bounds each ask/search call by timeout; zero leaves the
// request context alone.
func NewQAHandler(qa QAService, timeout time.Duration) *QAHandler {
	return &QAHandler{qa: qa, timeout: timeout}
}

func (h *QAHandler) Ask(c *gin.Context) {
	var req AskRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	result, err := h.qa.Ask(ctx, app.AskInput{
		Question:  req.Question,
		CatalogID: req.CatalogID,
		UserID:    c.GetString(middleware.ContextUserIDKey),
	})
	if err != nil {
		writeError(c, err, "answer question failed")
		return
	}
	response.OK(c, result)
}

func (h *QAHandler) Search(c *gin.Context) {
	var req AskRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	result, err := h.qa.Search(ctx, app.SearchInput{Question: req.Question, CatalogID: req.CatalogID})
	if err != nil {
		writeError(c, err, "search failed")
		return
	}
	response.OK(c, result)
}

func (h *QAHandler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if !bindJSON(c, &req) {
		return
	}
	analysis, err := h.qa.Classify(req.Question)
	if err != nil {
		writeError(c, err, "classify failed")
		return
	}
	response.OK(c, analysis)
}

func (h *QAHandler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}
