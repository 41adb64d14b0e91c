// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434)
	BaseURL string

	// DefaultModel is used when a request names no model (default: llama2)
	DefaultModel string

	// HealthTimeout bounds CheckRunning (default: 5s)
	HealthTimeout time.Duration

	// ModelsTimeout bounds ListModels (default: 10s)
	ModelsTimeout time.Duration

	// ChatTimeout bounds a whole chat turn, streamed or not (default: 180s)
	ChatTimeout time.Duration

	// Logger receives diagnostics such as skipped stream frames.
	Logger zerolog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       "http://localhost:11434",
		DefaultModel:  "llama2",
		HealthTimeout: 5 * time.Second,
		ModelsTimeout: 10 * time.Second,
		ChatTimeout:   180 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
// Zero fields take their defaults.
func NewClientWithConfig(config *ClientConfig) *Client {
	d := DefaultConfig()
	if config == nil {
		config = d
	}

	cfg := *config
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = d.DefaultModel
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = d.HealthTimeout
	}
	if cfg.ModelsTimeout == 0 {
		cfg.ModelsTimeout = d.ModelsTimeout
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = d.ChatTimeout
	}

	return &Client{
		config: &cfg,
		// Deadlines come from per-call contexts; a client-wide Timeout would
		// cut long streams short.
		httpClient: &http.Client{},
	}
}

// BaseURL returns the configured Ollama URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// DefaultModel returns the model used when a request names none.
func (c *Client) DefaultModel() string {
	return c.config.DefaultModel
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and answering API calls.
func (c *Client) CheckRunning(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return c.transportError(err, msgHealthTimeout)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, msgListNotFound)
	}
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ModelsTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, c.transportError(err, msgHealthTimeout)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, msgListNotFound)
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: msgInvalidResponse, Cause: err}
	}
	return result.Models, nil
}

// ModelNames returns just the names of the available models.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Chat sends a chat request and returns the complete response (non-streaming).
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ChatTimeout)
	defer cancel()

	resp, err := c.postChat(ctx, model, messages, false)
	if err != nil {
		return nil, c.transportError(err, msgChatTimeout)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, msgChatNotFound)
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if ctx.Err() != nil {
			return nil, c.transportError(ctx.Err(), msgChatTimeout)
		}
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: msgInvalidResponse, Cause: err}
	}
	if result.Error != "" {
		return nil, &ClientError{Type: ErrTypeStream, Message: result.Error}
	}
	if result.Message.Role == "" && result.Message.Content == "" {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: msgInvalidResponse}
	}
	if result.Model == "" {
		result.Model = c.modelOrDefault(model)
	}
	return &result, nil
}

// ChatStream starts a streaming chat request. The returned Stream must be
// closed. ChatTimeout covers the whole stream, not just the first byte.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ChatTimeout)

	resp, err := c.postChat(ctx, model, messages, true)
	if err != nil {
		cancel()
		return nil, c.transportError(err, msgStreamTimeout)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, msgChatNotFound)
	}

	return newStream(ctx, cancel, resp.Body, c), nil
}

func (c *Client) postChat(ctx context.Context, model string, messages []Message, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ChatRequest{
		Model:    c.modelOrDefault(model),
		Messages: messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/api/chat", body)
}

func (c *Client) modelOrDefault(model string) string {
	if model == "" {
		return c.config.DefaultModel
	}
	return model
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// drainAndClose lets the transport reuse the connection.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
