package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmbeddingUnavailable wraps every failure to obtain an embedding from the
// provider. Context errors stay detectable through errors.Is.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// EmbeddingClient embeds one text per call against an OpenAI-compatible
// /embeddings endpoint.
type EmbeddingClient struct {
	client *OpenAICompatibleClient
	cfg    EmbeddingConfig
}

func NewEmbeddingClient(client *OpenAICompatibleClient, cfg EmbeddingConfig) *EmbeddingClient {
	return &EmbeddingClient{client: client, cfg: cfg}
}

func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: input is empty", ErrEmbeddingUnavailable)
	}

	reqBody := map[string]any{
		"model": e.cfg.Model,
		"input": text,
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := e.client.post(ctx, e.cfg.BaseURL, "/embeddings", e.cfg.APIKey, reqBody, &parsed); err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", errors.Join(ErrEmbeddingUnavailable, err))
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", ErrEmbeddingUnavailable)
	}
	return parsed.Data[0].Embedding, nil
}
