// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trahoangdev/mini-chatbot/internal/config"
	"github.com/trahoangdev/mini-chatbot/internal/frame"
	"github.com/trahoangdev/mini-chatbot/internal/model"
	"github.com/trahoangdev/mini-chatbot/internal/ollama"
	"github.com/trahoangdev/mini-chatbot/internal/relay"
	"github.com/trahoangdev/mini-chatbot/internal/storage"
)

// ============================================================================
// TEST HARNESS
// ============================================================================

// fakeOllama serves /api/tags and hands /api/chat to chat.
type fakeOllama struct {
	mu       sync.Mutex
	requests []ollama.ChatRequest
	chat     func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/tags":
		w.Write([]byte(`{"models":[{"name":"llama2:latest"},{"name":"mistral:7b"}]}`))
	case "/api/chat":
		var req ollama.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		f.chat(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) lastRequest() ollama.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// ndjson streams one line per fragment, then done.
func ndjson(fragments ...string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, f := range fragments {
			line, _ := json.Marshal(map[string]any{"message": map[string]string{"role": "assistant", "content": f}, "done": false})
			w.Write(append(line, '\n'))
			w.(http.Flusher).Flush()
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}` + "\n"))
	}
}

type harness struct {
	srv    *httptest.Server
	ollama *fakeOllama
	store  *storage.MemoryStore
}

func newHarness(t *testing.T, chat func(http.ResponseWriter, *http.Request), tweak ...func(*config.ServerConfig)) *harness {
	t.Helper()

	fake := &fakeOllama{chat: chat}
	upstream := httptest.NewServer(fake)
	t.Cleanup(upstream.Close)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:     upstream.URL,
		ChatTimeout: 5 * time.Second,
	})
	store := storage.NewMemoryStore(storage.DefaultCapacity, nil)
	svc := relay.NewService(relay.Config{
		Store:    store,
		Upstream: relay.OllamaUpstream(client),
		Logger:   zerolog.Nop(),
	})

	cfg := config.Default().Server
	cfg.RateLimit = 0
	for _, fn := range tweak {
		fn(&cfg)
	}

	s := New(Options{Config: cfg, Relay: svc, Backend: client, Logger: zerolog.Nop()})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &harness{srv: srv, ollama: fake, store: store}
}

// newListening runs the server through Serve on a real listener, so the
// http.Server timeouts apply. It returns the chat route base URL.
func newListening(t *testing.T, chat func(http.ResponseWriter, *http.Request), chatTimeout, writeTimeout time.Duration) (string, *storage.MemoryStore) {
	t.Helper()

	upstream := httptest.NewServer(&fakeOllama{chat: chat})
	t.Cleanup(upstream.Close)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: upstream.URL, ChatTimeout: chatTimeout})
	store := storage.NewMemoryStore(storage.DefaultCapacity, nil)
	svc := relay.NewService(relay.Config{Store: store, Upstream: relay.OllamaUpstream(client), Logger: zerolog.Nop()})

	cfg := config.Default().Server
	cfg.RateLimit = 0
	cfg.WriteTimeout = config.D(writeTimeout)
	s := New(Options{Config: cfg, Relay: svc, Backend: client, Logger: zerolog.Nop(), ReplyTimeout: chatTimeout})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return "http://" + ln.Addr().String() + "/api/v1/chat", store
}

func (h *harness) url(path string) string {
	return h.srv.URL + "/api/v1/chat" + path
}

func (h *harness) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.url(path), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(r).Decode(&v))
	return v
}

// readEvents decodes a whole event stream.
func readEvents(t *testing.T, r io.Reader) []relay.Event {
	t.Helper()
	var events []relay.Event
	sc := frame.NewScanner(r, frame.WithDataPrefix())
	for sc.Next() {
		var e relay.Event
		require.NoError(t, json.Unmarshal(sc.Frame(), &e))
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

// ============================================================================
// BASIC ROUTES
// ============================================================================

func TestRootHealth(t *testing.T) {
	h := newHarness(t, ndjson())

	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body := decode[map[string]any](t, resp.Body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Server is running", body["message"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestRouteNotFound(t *testing.T) {
	h := newHarness(t, ndjson())

	resp, err := http.Get(h.srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[ErrorResponse](t, resp.Body)
	assert.False(t, body.Success)
	assert.Equal(t, "Route not found", body.Error)
}

func TestChatHealth(t *testing.T) {
	h := newHarness(t, ndjson())

	resp, err := http.Get(h.url("/health"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body := decode[HealthResponse](t, resp.Body)
	assert.True(t, body.Success)
	assert.True(t, body.Connected)
}

func TestChatHealth_OllamaDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: deadURL})
	s := New(Options{Config: config.Default().Server, Backend: client, Logger: zerolog.Nop()})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chat/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[HealthResponse](t, rec.Body)
	assert.False(t, body.Success)
	assert.False(t, body.Connected)
	assert.Equal(t, "Cannot connect to Ollama at "+deadURL+". Please start Ollama.", body.Error)
}

func TestModels(t *testing.T) {
	h := newHarness(t, ndjson())

	resp, err := http.Get(h.url("/models"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body := decode[ModelsResponse](t, resp.Body)
	assert.True(t, body.Success)
	assert.Equal(t, []string{"llama2:latest", "mistral:7b"}, body.Models)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, ndjson())
	http.Get(h.srv.URL + "/health")

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "minichat_http_requests_total")
}

// ============================================================================
// NON-STREAMING
// ============================================================================

func TestMessage(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"llama2","message":{"role":"assistant","content":"Hello! How can I help you?"},"done":true}`))
	})

	resp := h.post(t, "/message", `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[MessageResponse](t, resp.Body)
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.ConversationID)
	assert.Equal(t, model.RoleAssistant, body.Message.Role)
	assert.Equal(t, "Hello! How can I help you?", body.Message.Content)
	assert.Equal(t, "llama2", body.Model)
	assert.False(t, h.ollama.lastRequest().Stream)

	// Continue the same conversation.
	resp = h.post(t, "/message", `{"message":"Again","conversationId":"`+body.ConversationID+`"}`)
	second := decode[MessageResponse](t, resp.Body)
	assert.Equal(t, body.ConversationID, second.ConversationID)
	assert.Len(t, h.ollama.lastRequest().Messages, 3)
}

func TestMessage_Validation(t *testing.T) {
	h := newHarness(t, ndjson())

	for _, payload := range []string{`{}`, `{"message":"   "}`} {
		resp := h.post(t, "/message", payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decode[ErrorResponse](t, resp.Body)
		assert.Equal(t, "Message is required", body.Error)
	}

	resp := h.post(t, "/message", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	n, _ := h.store.Len(context.Background())
	assert.Zero(t, n)
}

func TestMessage_UpstreamError(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'ghost' not found"}`))
	})

	resp := h.post(t, "/message", `{"message":"Hello","model":"ghost"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[ErrorResponse](t, resp.Body)
	assert.Equal(t, "model 'ghost' not found", body.Error)

	ids := h.store.IDs()
	require.Len(t, ids, 1, "user message is kept")
	conv, _ := h.store.Get(context.Background(), ids[0])
	assert.Len(t, conv.Messages, 1)
}

func TestMessage_SlowerThanWriteTimeout(t *testing.T) {
	base, store := newListening(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"model":"llama2","message":{"role":"assistant","content":"Worth the wait"},"done":true}`))
	}, 5*time.Second, 100*time.Millisecond)

	resp, err := http.Post(base+"/message", "application/json", strings.NewReader(`{"message":"Hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[MessageResponse](t, resp.Body)
	assert.Equal(t, "Worth the wait", body.Message.Content)

	conv, err := store.Get(context.Background(), body.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestMessage_UpstreamTimeoutAnswersJSON(t *testing.T) {
	base, store := newListening(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, 300*time.Millisecond, 100*time.Millisecond)

	resp, err := http.Post(base+"/message", "application/json", strings.NewReader(`{"message":"Hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	body := decode[ErrorResponse](t, resp.Body)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "timed out")

	ids := store.IDs()
	require.Len(t, ids, 1)
	conv, _ := store.Get(context.Background(), ids[0])
	assert.Len(t, conv.Messages, 1, "only the user message is stored")
}

func TestMessage_BodyTooLarge(t *testing.T) {
	h := newHarness(t, ndjson(), func(c *config.ServerConfig) { c.MaxBodyBytes = 64 })

	resp := h.post(t, "/message", `{"message":"`+strings.Repeat("x", 200)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

// ============================================================================
// STREAMING
// ============================================================================

func TestMessageStream(t *testing.T) {
	h := newHarness(t, ndjson("Hi", " there"))

	resp := h.post(t, "/message/stream", `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "Hi", events[0].Chunk)
	assert.Equal(t, "Hi there", events[1].Chunk)
	assert.True(t, events[2].Done)
	assert.Equal(t, events[0].MessageID, events[2].MessageID)

	assert.True(t, h.ollama.lastRequest().Stream)

	// The stored conversation matches what was streamed.
	getResp, err := http.Get(h.url("/conversation/" + events[0].ConversationID))
	require.NoError(t, err)
	defer getResp.Body.Close()
	conv := decode[ConversationResponse](t, getResp.Body).Conversation
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
	assert.Equal(t, "Hi there", conv.Messages[1].Content)
	assert.Equal(t, events[0].MessageID, conv.Messages[1].ID)
}

func TestMessageStream_ErrorFrame(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"Hi"},"done":false}` + "\n"))
		w.Write([]byte(`{"error":"model ran out of memory"}` + "\n"))
	})

	resp := h.post(t, "/message/stream", `{"message":"Hello"}`)
	events := readEvents(t, resp.Body)
	require.Len(t, events, 2)

	last := events[1]
	assert.False(t, last.Success)
	assert.Equal(t, "model ran out of memory", last.Error)

	conv, err := h.store.Get(context.Background(), last.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
}

func TestMessageStream_Validation(t *testing.T) {
	h := newHarness(t, ndjson())

	resp := h.post(t, "/message/stream", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestMessageStream_Heartbeat(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		ndjson("late")(w, r)
	}, func(c *config.ServerConfig) { c.Heartbeat = config.D(20 * time.Millisecond) })

	resp := h.post(t, "/message/stream", `{"message":"Hello"}`)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), ": ping\n\n")
	events := readEvents(t, bytes.NewReader(raw))
	require.Len(t, events, 2, "pings are not events")
	assert.Equal(t, "late", events[0].Chunk)
}

func TestMessageStream_HeartbeatStopsWithHandler(t *testing.T) {
	h := newHarness(t, ndjson("a", "b"), func(c *config.ServerConfig) { c.Heartbeat = config.D(time.Microsecond) })

	for i := 0; i < 100; i++ {
		resp := h.post(t, "/message/stream", `{"message":"Hello"}`)
		events := readEvents(t, resp.Body)
		require.NotEmpty(t, events)
		assert.True(t, events[len(events)-1].Done, "turn %d", i)
	}
}

func TestSSEWriter_Close(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := newSSEWriter(rec)
	require.NoError(t, err)

	stop := sse.startHeartbeat(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()

	written := rec.Body.String()
	assert.Contains(t, written, ": ping\n\n")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, written, rec.Body.String(), "no writes after stop")

	assert.ErrorIs(t, sse.Comment("ping"), errStreamClosed)
	assert.ErrorIs(t, sse.Event(relay.Event{Success: true}), errStreamClosed)
	assert.Equal(t, written, rec.Body.String())
}

func TestMessageStream_ClientDisconnect(t *testing.T) {
	released := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"first"},"done":false}` + "\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, h.url("/message/stream"), strings.NewReader(`{"message":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := frame.NewScanner(resp.Body, frame.WithDataPrefix())
	require.True(t, sc.Next())
	var first relay.Event
	require.NoError(t, json.Unmarshal(sc.Frame(), &first))
	assert.Equal(t, "first", first.Chunk)

	cancel()

	select {
	case <-released:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream request still open after client disconnect")
	}

	conv, err := h.store.Get(context.Background(), first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1, "no assistant message for an abandoned turn")
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

func TestConversation_NotFound(t *testing.T) {
	h := newHarness(t, ndjson())

	resp, err := http.Get(h.url("/conversation/unknown"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Conversation not found", decode[ErrorResponse](t, resp.Body).Error)
}

func TestConversation_DeleteIdempotent(t *testing.T) {
	h := newHarness(t, ndjson())
	conv := model.NewConversation("llama2")
	require.NoError(t, h.store.Put(context.Background(), conv))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodDelete, h.url("/conversation/"+conv.ID), nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		body := decode[map[string]any](t, resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Conversation cleared", body["message"])
	}

	_, err := h.store.Get(context.Background(), conv.ID)
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

func TestRateLimit(t *testing.T) {
	h := newHarness(t, ndjson(), func(c *config.ServerConfig) {
		c.RateLimit = 2
		c.RateWindow = config.D(time.Hour)
	})

	for i := 0; i < 2; i++ {
		resp, err := http.Get(h.srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "Too many requests", decode[ErrorResponse](t, resp.Body).Error)
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, zerolog.Nop())

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.False(t, ok)
	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "limits are per client")
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode[ErrorResponse](t, rec.Body).Error)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct", "203.0.113.9:5555", "", "203.0.113.9"},
		{"spoofed header from untrusted peer", "203.0.113.9:5555", "1.2.3.4", "203.0.113.9"},
		{"trusted proxy", "127.0.0.1:5555", "198.51.100.7, 10.0.0.1", "198.51.100.7"},
		{"trusted proxy with junk header", "10.1.2.3:80", "not-an-ip", "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestServe_Shutdown(t *testing.T) {
	cfg := config.Default().Server
	cfg.Addr = "127.0.0.1:0"
	s := New(Options{Config: cfg, Backend: ollama.NewClient(), Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
