// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trahoangdev/mini-chatbot/internal/model"
	"github.com/trahoangdev/mini-chatbot/internal/relay"
)

// DefaultTimeout bounds one request, a whole stream included.
const DefaultTimeout = 120 * time.Second

// DefaultMaxEventSize bounds one event of a reply stream. Every event
// carries the reply so far, so this caps the length of a streamed reply.
const DefaultMaxEventSize = 64 << 20

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. http://localhost:3001/api/v1.
	BaseURL string

	// Timeout bounds each request (default 120s).
	Timeout time.Duration

	// HTTPClient is used for requests; it should have no Timeout of its own.
	HTTPClient *http.Client

	// MaxEventSize bounds one stream event (default DefaultMaxEventSize).
	MaxEventSize int

	Logger zerolog.Logger
}

// Client calls the relay HTTP API. It is safe for concurrent use.
type Client struct {
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	log      zerolog.Logger
	maxEvent int
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:3001/api/v1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.MaxEventSize <= 0 {
		opts.MaxEventSize = DefaultMaxEventSize
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
		log:      opts.Logger,
		maxEvent: opts.MaxEventSize,
	}
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Health is the result of a health check.
type Health struct {
	Success   bool   `json:"success"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Health asks whether the relay can reach its model backend.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.call(ctx, http.MethodGet, "/chat/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Models lists the model names the backend offers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Success bool     `json:"success"`
		Models  []string `json:"models"`
		Error   string   `json:"error"`
	}
	if err := c.call(ctx, http.MethodGet, "/chat/models", nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &APIError{Message: out.Error}
	}
	return out.Models, nil
}

// Send runs a non-streaming turn.
func (c *Client) Send(ctx context.Context, req relay.Request) (*relay.Reply, error) {
	var out relay.Reply
	if err := c.call(ctx, http.MethodPost, "/chat/message", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversation fetches a conversation stored on the server.
func (c *Client) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	var out struct {
		Conversation *model.Conversation `json:"conversation"`
	}
	if err := c.call(ctx, http.MethodGet, "/chat/conversation/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversation, nil
}

// Clear deletes a conversation on the server.
func (c *Client) Clear(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/chat/conversation/"+url.PathEscape(id), nil, nil)
}

// Stream starts a streaming turn. The caller bounds it through ctx and must
// close the returned stream.
func (c *Client) Stream(ctx context.Context, req relay.Request) (*EventStream, error) {
	resp, err := c.do(ctx, http.MethodPost, "/chat/message/stream", req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		defer resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Message: "unexpected content type " + mt}
	}
	return newEventStream(resp.Body, c.maxEvent, c.log), nil
}

// call does a JSON request bounded by the client timeout and decodes the
// reply into out when out is non-nil.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")

	c.log.Debug().Str("method", method).Str("path", path).Msg("relay request")
	return c.http.Do(req)
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
