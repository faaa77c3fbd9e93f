package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-rag/internal/cache"
	"catalog-rag/internal/model"
)

func fastClient() *OpenAICompatibleClient {
	return NewOpenAICompatibleClient(ClientOptions{
		Timeout: 2 * time.Second,
		Retry:   RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	})
}

func embeddingServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if n <= len(statuses) && statuses[n-1] != http.StatusOK {
			w.WriteHeader(statuses[n-1])
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		var body struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-v3", body.Model)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newEmbeddingClient(srv *httptest.Server) *EmbeddingClient {
	return NewEmbeddingClient(fastClient(), EmbeddingConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "text-embedding-v3"})
}

func TestEmbed(t *testing.T) {
	srv, calls := embeddingServer(t)
	vec, err := newEmbeddingClient(srv).Embed(context.Background(), "  seladora a vacuo ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedRetriesThrottlingAndServerErrors(t *testing.T) {
	srv, calls := embeddingServer(t, http.StatusTooManyRequests, http.StatusBadGateway)
	vec, err := newEmbeddingClient(srv).Embed(context.Background(), "datadora")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedFailuresAreUnavailable(t *testing.T) {
	t.Run("client error is not retried", func(t *testing.T) {
		srv, calls := embeddingServer(t, http.StatusBadRequest)
		_, err := newEmbeddingClient(srv).Embed(context.Background(), "x")
		require.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		srv, calls := embeddingServer(t, 500, 500, 500, 500)
		_, err := newEmbeddingClient(srv).Embed(context.Background(), "x")
		require.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("empty input", func(t *testing.T) {
		srv, calls := embeddingServer(t)
		_, err := newEmbeddingClient(srv).Embed(context.Background(), "   ")
		require.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.Zero(t, calls.Load())
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv, _ := embeddingServer(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newEmbeddingClient(srv).Embed(ctx, "x")
		require.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retryWithBackoff(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}, nil, func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 2}, nil
}

type fakeEmbeddingCache struct {
	lookup cache.EmbeddingLookup
	putErr error
	puts   map[string][]float32
}

func (f *fakeEmbeddingCache) GetEmbedding(_ context.Context, _ string) cache.EmbeddingLookup {
	return f.lookup
}

func (f *fakeEmbeddingCache) PutEmbedding(_ context.Context, text string, vec []float32) error {
	if f.puts == nil {
		f.puts = map[string][]float32{}
	}
	f.puts[text] = vec
	return f.putErr
}

func TestCachingEmbedder(t *testing.T) {
	t.Run("hit skips provider", func(t *testing.T) {
		next := &fakeEmbedder{}
		c := &fakeEmbeddingCache{lookup: cache.EmbeddingLookup{Status: cache.Hit, Vector: []float32{9}}}
		vec, err := NewCachingEmbedder(next, c, nil).Embed(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, []float32{9}, vec)
		assert.Zero(t, next.calls)
	})

	t.Run("miss embeds and stores", func(t *testing.T) {
		next := &fakeEmbedder{}
		c := &fakeEmbeddingCache{}
		vec, err := NewCachingEmbedder(next, c, nil).Embed(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, vec)
		assert.Equal(t, []float32{1, 2}, c.puts["q"])
	})

	t.Run("degraded cache still answers", func(t *testing.T) {
		log, hook := test.NewNullLogger()
		next := &fakeEmbedder{}
		c := &fakeEmbeddingCache{
			lookup: cache.EmbeddingLookup{Status: cache.Degraded, Err: &cache.SoftError{Op: "get_embedding", Tier: cache.TierFast, Err: errors.New("down")}},
			putErr: &cache.SoftError{Op: "put_embedding", Tier: cache.TierFast, Err: errors.New("down")},
		}
		vec, err := NewCachingEmbedder(next, c, log).Embed(context.Background(), "q")
		require.NoError(t, err)
		assert.Len(t, vec, 2)
		assert.Len(t, hook.AllEntries(), 2)
	})

	t.Run("provider failure propagates", func(t *testing.T) {
		next := &fakeEmbedder{err: ErrEmbeddingUnavailable}
		c := &fakeEmbeddingCache{}
		_, err := NewCachingEmbedder(next, c, nil).Embed(context.Background(), "q")
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.Empty(t, c.puts)
	})
}

func TestChatGenerator(t *testing.T) {
	var got struct {
		Model    string        `json:"model"`
		Messages []ChatMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Temos 2 seladoras. "}}]}`))
	}))
	defer srv.Close()

	gen := NewChatGenerator(fastClient(), ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "qwen"}, 0)
	answer, err := gen.Generate(context.Background(), "Quantas seladoras?", []model.ScoredChunk{
		{DocumentName: "Seladoras", ChunkIndex: 0, Content: "VSF-30S"},
		{DocumentName: "Seladoras", ChunkIndex: 1, Content: "VSF-50"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Temos 2 seladoras.", answer)
	assert.Equal(t, "qwen", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "[Seladoras #1]\nVSF-50")
	assert.Contains(t, got.Messages[1].Content, "Question: Quantas seladoras?")
}

func TestBuildContextRespectsBudget(t *testing.T) {
	chunks := []model.ScoredChunk{
		{DocumentName: "a", Content: strings.Repeat("x", 50)},
		{DocumentName: "b", Content: strings.Repeat("y", 50)},
	}
	out := buildContext(chunks, 80)
	assert.Contains(t, out, "[a #0]")
	assert.NotContains(t, out, "[b #0]")

	// the first chunk is always kept
	assert.Contains(t, buildContext(chunks, 1), "[a #0]")
	assert.Empty(t, buildContext(nil, 10))
}
