// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trahoangdev/mini-chatbot/internal/frame"
)

// =============================================================================
// STREAM
// =============================================================================

// Stream reads a streaming /api/chat reply one fragment at a time.
//
// Next blocks until the next fragment arrives. The stream ends when Ollama
// sends done, when the body ends, or on error; Err tells which. Close may be
// called at any time, including from another goroutine, to abort the
// request.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	sc     *frame.Scanner
	client *Client
	log    zerolog.Logger

	chunk   StreamChunk
	content strings.Builder
	err     error
	done    bool

	started      time.Time
	firstContent time.Duration
}

func newStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, c *Client) *Stream {
	return &Stream{
		ctx:     ctx,
		cancel:  cancel,
		body:    body,
		sc:      frame.NewScanner(body, frame.WithLogger(c.config.Logger)),
		client:  c,
		log:     c.config.Logger,
		started: time.Now(),
	}
}

// Next advances to the next chunk. Chunks with empty content are still
// delivered so callers can observe Done.
func (s *Stream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.sc.Next() {
		var resp ChatResponse
		if err := json.Unmarshal(s.sc.Frame(), &resp); err != nil {
			s.log.Debug().Err(err).Msg("skipping undecodable chat frame")
			continue
		}

		if resp.Error != "" {
			s.err = &ClientError{Type: ErrTypeStream, Message: resp.Error}
			return false
		}

		s.chunk = StreamChunk{Content: resp.Message.Content, Done: resp.Done}
		if resp.Message.Content != "" {
			if s.content.Len() == 0 {
				s.firstContent = time.Since(s.started)
			}
			s.content.WriteString(resp.Message.Content)
		}
		if resp.Done {
			s.done = true
			s.chunk.Model = resp.Model
			s.chunk.DoneReason = resp.DoneReason
			s.chunk.EvalCount = resp.EvalCount
			s.chunk.TotalDuration = time.Duration(resp.TotalDuration)
		}
		return true
	}

	// The body ended. A read error is only reported as such when our own
	// context is still live; otherwise the context explains it better.
	if err := s.ctx.Err(); err != nil {
		s.err = s.client.transportError(err, msgStreamTimeout)
	} else if err := s.sc.Err(); err != nil {
		s.err = &ClientError{Type: ErrTypeConnection, Message: msgInterrupted, Cause: err}
	}
	s.done = true
	return false
}

// Chunk returns the chunk read by the last call to Next.
func (s *Stream) Chunk() StreamChunk {
	return s.chunk
}

// Content returns all fragment text received so far.
func (s *Stream) Content() string {
	return s.content.String()
}

// Err returns the error that ended the stream, or nil after a clean finish.
func (s *Stream) Err() error {
	return s.err
}

// TimeToFirstContent reports how long the first non-empty fragment took, or
// zero if none has arrived.
func (s *Stream) TimeToFirstContent() time.Duration {
	return s.firstContent
}

// Skipped reports how many malformed frames were dropped.
func (s *Stream) Skipped() int {
	return s.sc.Skipped()
}

// Close aborts the request if still running and releases the connection.
func (s *Stream) Close() error {
	s.cancel()
	return s.body.Close()
}
