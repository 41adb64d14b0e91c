// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

var errStreamClosed = errors.New("event stream closed")

// sseWriter serialises frames onto one event-stream response. Event and
// Comment may be called from different goroutines. After the first failed
// write, or after Close, every call returns an error without touching the
// ResponseWriter.
type sseWriter struct {
	mu  sync.Mutex
	w   http.ResponseWriter
	rc  *http.ResponseController
	err error
}

// newSSEWriter sends the event-stream headers. It fails if the connection
// can't be flushed incrementally.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, err
	}
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	return &sseWriter{w: w, rc: rc}, nil
}

// Event writes v as one "data:" frame.
func (s *sseWriter) Event(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return s.write(frame)
}

// Comment writes a comment line, which consumers discard.
func (s *sseWriter) Comment(text string) error {
	return s.write([]byte(": " + text + "\n\n"))
}

// Close stops all further writes. It waits for a write in progress, so once
// it returns the handler may give up the ResponseWriter.
func (s *sseWriter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = errStreamClosed
	}
}

func (s *sseWriter) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if _, err := s.w.Write(frame); err != nil {
		s.err = err
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.err = err
		return err
	}
	return nil
}

// startHeartbeat writes a ping comment every interval until a write fails
// or the returned func is called. The func closes the writer and returns
// only after the heartbeat goroutine has exited.
func (s *sseWriter) startHeartbeat(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return s.Close
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if err := s.Comment("ping"); err != nil {
					return
				}
			}
		}
	}()

	return func() {
		close(quit)
		<-done
		s.Close()
	}
}
