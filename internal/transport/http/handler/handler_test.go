package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-rag/internal/app"
	"catalog-rag/internal/cache"
	"catalog-rag/internal/classifier"
	"catalog-rag/internal/model"
	"catalog-rag/internal/retrieval"
	"catalog-rag/internal/transport/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

type fakeQA struct {
	askInput app.AskInput
	askErr   error
	blockCtx bool
}

func (f *fakeQA) Ask(ctx context.Context, input app.AskInput) (*app.AskResult, error) {
	f.askInput = input
	if f.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.askErr != nil {
		return nil, f.askErr
	}
	return &app.AskResult{Answer: "42 itens", CacheStatus: app.CacheMiss}, nil
}

func (f *fakeQA) Search(_ context.Context, input app.SearchInput) (*app.SearchResult, error) {
	if input.CatalogID == "broken" {
		return nil, errors.Join(retrieval.ErrStoreUnavailable, errors.New("dial tcp: refused"))
	}
	return &app.SearchResult{Result: &retrieval.Result{UniqueDocuments: []string{"d1", "d2", "d3"}}}, nil
}

func (f *fakeQA) Classify(question string) (classifier.Analysis, error) {
	return classifier.Classify(question), nil
}

func qaRouter(qa QAService, timeout time.Duration) *gin.Engine {
	r := gin.New()
	h := NewQAHandler(qa, timeout)
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserIDKey, "u-1"); c.Next() })
	r.POST("/ask", h.Ask)
	r.POST("/search", h.Search)
	r.POST("/classify", h.Classify)
	return r
}

func TestQAAsk(t *testing.T) {
	qa := &fakeQA{}
	w, env := do(t, qaRouter(qa, 0), http.MethodPost, "/ask", `{"question":"quantos produtos?","catalog_id":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), "42 itens")
	assert.Equal(t, app.AskInput{Question: "quantos produtos?", CatalogID: "c1", UserID: "u-1"}, qa.askInput)
}

func TestQAAskErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		qa       *fakeQA
		timeout  time.Duration
		wantHTTP int
	}{
		{"missing question", `{}`, &fakeQA{}, 0, http.StatusBadRequest},
		{"not json", `question`, &fakeQA{}, 0, http.StatusBadRequest},
		{"blank question", `{"question":" "}`, &fakeQA{askErr: app.ErrInvalidInput}, 0, http.StatusBadRequest},
		{"store down", `{"question":"x"}`, &fakeQA{askErr: retrieval.ErrStoreUnavailable}, 0, http.StatusServiceUnavailable},
		{"generation failed", `{"question":"x"}`, &fakeQA{askErr: errors.New("llm status 500")}, 0, http.StatusInternalServerError},
		{"timeout", `{"question":"x"}`, &fakeQA{blockCtx: true}, 20 * time.Millisecond, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, qaRouter(tt.qa, tt.timeout), http.MethodPost, "/ask", tt.body)
			assert.Equal(t, tt.wantHTTP, w.Code)
			assert.NotZero(t, env.Code)
			assert.NotContains(t, env.Message, "llm status")
		})
	}
}

func TestQASearchAndClassify(t *testing.T) {
	r := qaRouter(&fakeQA{}, 0)

	w, env := do(t, r, http.MethodPost, "/search", `{"question":"lista de cabos"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"unique_documents":["d1","d2","d3"]`)

	w, _ = do(t, r, http.MethodPost, "/search", `{"question":"x","catalog_id":"broken"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, env = do(t, r, http.MethodPost, "/classify", `{"question":"quantos produtos existem?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var analysis classifier.Analysis
	require.NoError(t, json.Unmarshal(env.Data, &analysis))
	assert.True(t, analysis.IsCountQuery)
}

type fakeDocuments struct {
	chunks []model.Chunk
}

func (f *fakeDocuments) DeleteDocument(_ context.Context, id string) (*app.MutationResult, error) {
	if id == "missing" {
		return nil, app.ErrDocumentNotFound
	}
	if id == "cache-down" {
		return nil, errors.Join(cache.ErrTierUnavailable, errors.New("redis: connection refused"))
	}
	return &app.MutationResult{DocumentID: id, InvalidatedEntries: 2}, nil
}

func (f *fakeDocuments) ReindexDocument(_ context.Context, id string, chunks []model.Chunk) (*app.MutationResult, error) {
	f.chunks = chunks
	return &app.MutationResult{DocumentID: id}, nil
}

func (f *fakeDocuments) ReindexAll(context.Context) (*app.ReindexAllResult, error) {
	return &app.ReindexAllResult{DeletedChunks: 10}, nil
}

func TestDocumentHandler(t *testing.T) {
	docs := &fakeDocuments{}
	h := NewDocumentHandler(docs)
	r := gin.New()
	r.DELETE("/documents/:id", h.Delete)
	r.PUT("/documents/:id/chunks", h.Reindex)
	r.POST("/reset", h.ReindexAll)

	w, env := do(t, r, http.MethodDelete, "/documents/doc-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"invalidated_entries":2`)

	w, _ = do(t, r, http.MethodDelete, "/documents/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// invalidation failure refuses the delete
	w, _ = do(t, r, http.MethodDelete, "/documents/cache-down", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = do(t, r, http.MethodPut, "/documents/doc-1/chunks",
		`{"chunks":[{"content":"a","embedding":[1,0]},{"content":"b","metadata":{"filename":"x.pdf"}}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, docs.chunks, 2)
	assert.Equal(t, 1, docs.chunks[1].ChunkIndex)
	assert.Equal(t, []float32{1, 0}, docs.chunks[0].EmbeddingVector())
	assert.JSONEq(t, `{"filename":"x.pdf"}`, string(docs.chunks[1].Metadata))

	w, _ = do(t, r, http.MethodPut, "/documents/doc-1/chunks", `{"chunks":[{"embedding":[1]}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, r, http.MethodPost, "/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"deleted_chunks":10`)
}

type fakeCacheAdmin struct {
	limit int
	calls []string
}

func (f *fakeCacheAdmin) GetStats(context.Context) (cache.Stats, error) {
	return cache.Stats{TotalEntries: 5, FastTier: "memory"}, nil
}

func (f *fakeCacheAdmin) ListRecent(_ context.Context, limit int) ([]cache.RecentEntry, error) {
	f.limit = limit
	return []cache.RecentEntry{{ID: 1, Query: "q"}}, nil
}

func (f *fakeCacheAdmin) ClearAll(context.Context) (cache.ClearResult, error) {
	return cache.ClearResult{Queries: 5, Embeddings: 9}, nil
}

func (f *fakeCacheAdmin) CleanupExpired(context.Context) (int64, error) { return 3, nil }

func (f *fakeCacheAdmin) InvalidateByDocument(_ context.Context, id string) (int64, error) {
	f.calls = append(f.calls, "document:"+id)
	return 1, nil
}

func (f *fakeCacheAdmin) InvalidateByCatalog(_ context.Context, id string) (int64, error) {
	f.calls = append(f.calls, "catalog:"+id)
	return 2, nil
}

func (f *fakeCacheAdmin) InvalidateByUser(_ context.Context, id string) (int64, error) {
	if id == " " {
		return 0, cache.ErrEmptyScope
	}
	f.calls = append(f.calls, "user:"+id)
	return 3, nil
}

func TestCacheAdminHandler(t *testing.T) {
	admin := &fakeCacheAdmin{}
	log, hook := test.NewNullLogger()
	h := NewCacheAdminHandler(admin, log)
	r := gin.New()
	r.GET("/stats", h.Stats)
	r.GET("/recent", h.Recent)
	r.POST("/clear", h.Clear)
	r.POST("/cleanup", h.Cleanup)
	r.DELETE("/documents/:id", h.InvalidateDocument)
	r.DELETE("/catalogs/:id", h.InvalidateCatalog)
	r.DELETE("/users/:id", h.InvalidateUser)

	w, env := do(t, r, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"fast_tier":"memory"`)

	w, _ = do(t, r, http.MethodGet, "/recent?limit=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, admin.limit)

	w, _ = do(t, r, http.MethodGet, "/recent?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, r, http.MethodPost, "/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"embeddings":9`)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "cache cleared by admin", hook.LastEntry().Message)

	w, env = do(t, r, http.MethodPost, "/cleanup", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":3}`, string(env.Data))

	for _, path := range []string{"/documents/d1", "/catalogs/c1", "/users/u1"} {
		w, _ = do(t, r, http.MethodDelete, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Equal(t, []string{"document:d1", "catalog:c1", "user:u1"}, admin.calls)

	w, _ = do(t, r, http.MethodDelete, "/users/%20", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		deps     []Dependency
		wantHTTP int
		status   string
	}{
		{"all ok", []Dependency{{Name: "mysql", Required: true, Check: ok}, {Name: "fast_tier", Check: ok}}, http.StatusOK, "ok"},
		{"optional down", []Dependency{{Name: "mysql", Required: true, Check: ok}, {Name: "rabbitmq", Check: fail}}, http.StatusOK, "degraded"},
		{"required down", []Dependency{{Name: "mysql", Required: true, Check: fail}, {Name: "rabbitmq", Check: fail}}, http.StatusServiceUnavailable, "down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/healthz", NewHealthHandler("catalog-rag", "test", time.Now(), tt.deps...).Check)
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantHTTP, w.Code)
			var body struct {
				Status string `json:"status"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
		})
	}
}
