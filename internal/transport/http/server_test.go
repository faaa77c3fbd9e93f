package http

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-rag/internal/app"
	"catalog-rag/internal/config"
	"catalog-rag/internal/model"
	"catalog-rag/internal/pkg/jwtutil"
	"catalog-rag/internal/transport/http/handler"
)

const testSecret = "router-secret"

type recordingDocuments struct {
	calls []string
}

func (d *recordingDocuments) DeleteDocument(_ context.Context, id string) (*app.MutationResult, error) {
	d.calls = append(d.calls, "delete:"+id)
	return &app.MutationResult{DocumentID: id}, nil
}

func (d *recordingDocuments) ReindexDocument(_ context.Context, id string, _ []model.Chunk) (*app.MutationResult, error) {
	d.calls = append(d.calls, "reindex:"+id)
	return &app.MutationResult{DocumentID: id}, nil
}

func (d *recordingDocuments) ReindexAll(context.Context) (*app.ReindexAllResult, error) {
	d.calls = append(d.calls, "reindex-all")
	return &app.ReindexAllResult{}, nil
}

func newAPIRouter(t *testing.T, docs *recordingDocuments) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	r := gin.New()
	mountAPI(r, config.AuthConfig{JWTSecret: testSecret, AdminRole: "admin"},
		handler.NewQAHandler(nil, time.Second),
		handler.NewDocumentHandler(docs),
		handler.NewCacheAdminHandler(nil, log),
	)
	return r
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	tok, err := jwtutil.GenerateToken(testSecret, "u-1", "ana", role, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestDocumentMutationsRequireAdmin(t *testing.T) {
	routes := []struct {
		method, path, body string
	}{
		{nethttp.MethodDelete, "/api/v1/documents/doc-1", ""},
		{nethttp.MethodPut, "/api/v1/documents/doc-1/chunks", `{"chunks":[{"content":"x"}]}`},
		{nethttp.MethodPost, "/api/v1/admin/index/reset", ""},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			docs := &recordingDocuments{}
			r := newAPIRouter(t, docs)

			for _, tc := range []struct {
				auth string
				want int
			}{
				{"", nethttp.StatusUnauthorized},
				{bearer(t, "viewer"), nethttp.StatusForbidden},
			} {
				w := httptest.NewRecorder()
				req := httptest.NewRequest(rt.method, rt.path, nil)
				if tc.auth != "" {
					req.Header.Set("Authorization", tc.auth)
				}
				r.ServeHTTP(w, req)
				assert.Equal(t, tc.want, w.Code)
			}
			assert.Empty(t, docs.calls)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(rt.method, rt.path, strings.NewReader(rt.body))
			req.Header.Set("Authorization", bearer(t, "admin"))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			assert.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
			assert.Len(t, docs.calls, 1)
		})
	}
}
