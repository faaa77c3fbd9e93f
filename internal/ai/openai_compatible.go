package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ClientOptions tunes transport behaviour shared by chat and embedding calls.
// RequestsPerSecond <= 0 disables client-side throttling.
type ClientOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             RetryConfig
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:           90 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		Retry:             DefaultRetryConfig(),
	}
}

type OpenAICompatibleClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
}

func NewOpenAICompatibleClient(opts ClientOptions) *OpenAICompatibleClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, max(opts.Burst, 1)),
		retry:      opts.Retry,
	}
}

// statusError is a non-2xx provider response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider response status %d: %s", e.Status, e.Body)
}

// retryable reports whether a failed call is worth repeating: transport
// errors, throttling and server-side failures are, other 4xx are not.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return true
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	reqBody := map[string]any{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   false,
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, cfg.BaseURL, "/chat/completions", cfg.APIKey, reqBody, &parsed); err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// post sends a JSON request through the limiter with retry and decodes the
// JSON response into out.
func (c *OpenAICompatibleClient) post(ctx context.Context, baseURL, path, apiKey string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request failed: %w", err)
	}
	url := strings.TrimRight(baseURL, "/") + path

	raw, err := retryWithBackoff(ctx, c.retry, retryable, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.do(ctx, url, apiKey, bodyBytes)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response json failed: %w", err)
	}
	return nil
}

func (c *OpenAICompatibleClient) do(ctx context.Context, url, apiKey string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &statusError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
