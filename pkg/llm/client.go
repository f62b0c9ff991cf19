// Package llm provides an OpenAI-compatible chat completions client.
package llm

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
)

// LLM errors.
var (
	ErrNoChoices    = errors.New("llm: response contained no choices")
	ErrEmptyContent = errors.New("llm: response contained no content")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the completion interface stages depend on. Tests inject
// scripted fakes.
type Client interface {
	// Complete returns the assistant text for the given messages.
	Complete(ctx context.Context, model string, messages []Message) (string, error)
	// CompleteJSON is Complete with the JSON-object response format requested.
	CompleteJSON(ctx context.Context, model string, messages []Message) (string, error)
}

// Config configures the HTTP client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// HTTPClient talks to any /chat/completions endpoint.
type HTTPClient struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewHTTPClient builds a client for the given endpoint.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
	}
}

// Complete sends a chat completion request and returns the first choice text.
func (c *HTTPClient) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	return c.complete(ctx, model, messages, nil)
}

// CompleteJSON requests a JSON-object response and returns the first choice text.
func (c *HTTPClient) CompleteJSON(ctx context.Context, model string, messages []Message) (string, error) {
	return c.complete(ctx, model, messages, &responseFormat{Type: "json_object"})
}

func (c *HTTPClient) complete(ctx context.Context, model string, messages []Message, format *responseFormat) (string, error) {
	if model == "" {
		return "", errors.New("llm: model is required")
	}
	payload, err := json.Marshal(chatRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("llm: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", ErrNoChoices
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	return content, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
