// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package frame

import (
	"encoding/json"
	"errors"
	"io"
	"iter"
)

const readSize = 4096

// Scanner yields frames from an io.Reader one at a time. It only reads from
// the underlying reader when every frame decoded so far has been consumed,
// so a frame is available as soon as its newline arrives.
//
// The sequence is finite and cannot be restarted.
type Scanner struct {
	r       io.Reader
	dec     *Decoder
	buf     []byte
	pending []json.RawMessage
	frame   json.RawMessage
	err     error
	done    bool
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader, opts ...Option) *Scanner {
	return &Scanner{
		r:   r,
		dec: NewDecoder(opts...),
		buf: make([]byte, readSize),
	}
}

// Next advances to the next frame. It returns false at end of stream or on a
// read error; Err distinguishes the two.
func (s *Scanner) Next() bool {
	for len(s.pending) == 0 {
		if s.done {
			s.frame = nil
			return false
		}

		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.dec.Write(s.buf[:n])...)
		}
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				s.pending = append(s.pending, s.dec.Flush()...)
			} else {
				s.err = err
			}
		}
	}

	s.frame = s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return true
}

// Frame returns the frame produced by the last successful call to Next.
func (s *Scanner) Frame() json.RawMessage {
	return s.frame
}

// Err returns the transport error that ended the stream, if any. A clean
// end of stream returns nil.
func (s *Scanner) Err() error {
	return s.err
}

// Skipped reports how many frames were dropped as malformed or oversized.
func (s *Scanner) Skipped() int {
	return s.dec.Skipped()
}

// All returns the remaining frames as an iterator. A transport error is
// delivered as the final element with a nil frame.
func (s *Scanner) All() iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for s.Next() {
			if !yield(s.frame, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}
