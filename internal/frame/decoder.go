// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package frame

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/trahoangdev/mini-chatbot/internal/util"
)

// DefaultMaxFrameSize bounds one line of input. A longer line is dropped
// whole, however it was split, and a peer that never sends a newline cannot
// grow the buffer past this.
const DefaultMaxFrameSize = 1 << 20

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// Option configures a Decoder or Scanner.
type Option func(*Decoder)

// WithDataPrefix makes the decoder read server-sent event "data:" lines.
// The prefix is stripped before parsing and other SSE fields (event:, id:,
// retry:) are ignored.
func WithDataPrefix() Option {
	return func(d *Decoder) {
		d.sse = true
	}
}

// WithLogger routes skipped-frame diagnostics to log.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Decoder) {
		d.log = log
	}
}

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxFrame = n
		}
	}
}

// Decoder reassembles newline-delimited JSON frames from arbitrary chunks.
// The frames produced do not depend on where the input was split.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf      []byte
	sse      bool
	maxFrame int
	log      zerolog.Logger

	// discarding is set while the rest of an oversized line is skipped.
	discarding bool
	skipped    int
}

// NewDecoder creates a Decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		maxFrame: DefaultMaxFrameSize,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Write feeds chunk to the decoder and returns every frame the chunk
// completed, in arrival order. The returned frames do not alias chunk.
func (d *Decoder) Write(chunk []byte) []json.RawMessage {
	var frames []json.RawMessage
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')

		if d.discarding {
			if i < 0 {
				return frames
			}
			d.discarding = false
			chunk = chunk[i+1:]
			continue
		}

		if i < 0 {
			d.buf = append(d.buf, chunk...)
			if len(d.buf) > d.maxFrame {
				d.dropOversized(len(d.buf))
				d.buf = d.buf[:0]
				d.discarding = true
			}
			return frames
		}

		line := chunk[:i]
		if len(d.buf) > 0 {
			d.buf = append(d.buf, line...)
			line = d.buf
		}
		if len(line) > d.maxFrame {
			d.dropOversized(len(line))
		} else if f, ok := d.parseLine(line); ok {
			frames = append(frames, f)
		}
		d.buf = d.buf[:0]
		chunk = chunk[i+1:]
	}
	return frames
}

// Flush parses whatever is left in the buffer as a final frame and resets
// the buffer. Call it once, after the stream has ended cleanly.
func (d *Decoder) Flush() []json.RawMessage {
	d.discarding = false
	if len(d.buf) == 0 {
		return nil
	}
	f, ok := d.parseLine(d.buf)
	d.buf = d.buf[:0]
	if !ok {
		return nil
	}
	return []json.RawMessage{f}
}

// Buffered reports how many bytes of an incomplete frame are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Skipped reports how many malformed or oversized frames were dropped.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// dropOversized counts a line that exceeded maxFrame. size is what had been
// seen of it when it was dropped.
func (d *Decoder) dropOversized(size int) {
	d.skipped++
	d.log.Warn().
		Int("size", size).
		Int("limit", d.maxFrame).
		Msg("frame exceeds size limit, discarding")
}

func (d *Decoder) parseLine(line []byte) (json.RawMessage, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return nil, false
	}

	if d.sse {
		if !bytes.HasPrefix(line, dataPrefix) {
			return nil, false
		}
		line = bytes.TrimSpace(line[len(dataPrefix):])
		if len(line) == 0 {
			return nil, false
		}
	}

	if bytes.Equal(line, doneSentinel) {
		return nil, false
	}

	if line[0] != '{' || !json.Valid(line) {
		d.skipped++
		d.log.Debug().
			Str("frame", util.Preview(string(line), 120)).
			Msg("skipping malformed frame")
		return nil, false
	}

	out := make(json.RawMessage, len(line))
	copy(out, line)
	return out, true
}
