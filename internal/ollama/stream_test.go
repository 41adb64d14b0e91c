// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamHandler writes each part and flushes, so the client sees them as
// separate network reads.
func streamHandler(parts ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, p := range parts {
			w.Write([]byte(p))
			w.(http.Flusher).Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func drain(s *Stream) []StreamChunk {
	var out []StreamChunk
	for s.Next() {
		out = append(out, s.Chunk())
	}
	return out
}

func TestChatStream_SplitFrames(t *testing.T) {
	var req ChatRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&req)
		streamHandler(
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`+"\n"+`{"message":{"con`,
			`tent":"lo"},"done":false}`+"\n",
			"not json at all\n",
			`{"model":"llama2","message":{"content":""},"done":true,"done_reason":"stop","eval_count":2}`+"\n",
		)(w, r)
	})

	s, err := c.ChatStream(context.Background(), "llama2", []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer s.Close()

	chunks := drain(s)
	require.NoError(t, s.Err())
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.True(t, chunks[2].Done)
	assert.Equal(t, "stop", chunks[2].DoneReason)
	assert.Equal(t, "Hello", s.Content())
	assert.Equal(t, 1, s.Skipped())
	assert.Greater(t, s.TimeToFirstContent(), time.Duration(0))

	assert.True(t, req.Stream)
	assert.False(t, s.Next(), "stream stays finished")
}

func TestChatStream_EndsWithoutDone(t *testing.T) {
	c, _ := newTestClient(t, streamHandler(`{"message":{"content":"partial"}}`))

	s, err := c.ChatStream(context.Background(), "", nil)
	require.NoError(t, err)
	defer s.Close()

	chunks := drain(s)
	require.NoError(t, s.Err())
	require.Len(t, chunks, 1, "unterminated final line is still parsed")
	assert.Equal(t, "partial", s.Content())
}

func TestChatStream_ErrorFrame(t *testing.T) {
	c, _ := newTestClient(t, streamHandler(
		`{"message":{"content":"A"},"done":false}`+"\n",
		`{"error":"model crashed"}`+"\n",
		`{"message":{"content":"never"},"done":false}`+"\n",
	))

	s, err := c.ChatStream(context.Background(), "", nil)
	require.NoError(t, err)
	defer s.Close()

	chunks := drain(s)
	require.Len(t, chunks, 1)
	assert.Equal(t, ErrTypeStream, TypeOf(s.Err()))
	assert.Equal(t, "model crashed", UserMessage(s.Err()))
}

func TestChatStream_StatusError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'ghost' not found, try pulling it first"}`))
	})

	_, err := c.ChatStream(context.Background(), "ghost", nil)
	assert.True(t, IsModelNotFound(err))
}

func TestChatStream_Refused(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: refusedURL(t)})

	_, err := c.ChatStream(context.Background(), "", nil)
	assert.True(t, IsNotRunning(err), "got %v", err)
}

func TestChatStream_TimeoutMidStream(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"slow"},"done":false}` + "\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	c.config.ChatTimeout = 100 * time.Millisecond

	s, err := c.ChatStream(context.Background(), "", nil)
	require.NoError(t, err)
	defer s.Close()

	chunks := drain(s)
	assert.Len(t, chunks, 1)
	assert.True(t, IsTimeout(s.Err()), "got %v", s.Err())
	assert.Equal(t, msgStreamTimeout, UserMessage(s.Err()))
}

func TestChatStream_CallerCancel(t *testing.T) {
	released := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"x"},"done":false}` + "\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.ChatStream(ctx, "", nil)
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Next())
	cancel()
	assert.False(t, s.Next())
	assert.True(t, IsCanceled(s.Err()), "got %v", s.Err())

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not torn down")
	}
}

func TestChatStream_CloseAborts(t *testing.T) {
	released := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	})

	s, err := c.ChatStream(context.Background(), "", nil)
	require.NoError(t, err)
	s.Close()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abort the request")
	}
	assert.False(t, s.Next())
}
