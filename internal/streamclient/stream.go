// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streamclient

import (
	"encoding/json"
	"io"

	"github.com/rs/zerolog"

	"github.com/trahoangdev/mini-chatbot/internal/frame"
	"github.com/trahoangdev/mini-chatbot/internal/relay"
)

// EventStream reads relay events from an event-stream body. Keep-alive
// comments and malformed frames are skipped.
type EventStream struct {
	body  io.ReadCloser
	sc    *frame.Scanner
	event relay.Event
	err   error
	log   zerolog.Logger
}

func newEventStream(body io.ReadCloser, maxEvent int, log zerolog.Logger) *EventStream {
	return &EventStream{
		body: body,
		sc: frame.NewScanner(body,
			frame.WithDataPrefix(),
			frame.WithMaxFrameSize(maxEvent),
			frame.WithLogger(log),
		),
		log:  log,
	}
}

// Next advances to the next event.
func (s *EventStream) Next() bool {
	for s.sc.Next() {
		var e relay.Event
		if err := json.Unmarshal(s.sc.Frame(), &e); err != nil {
			s.log.Debug().Err(err).Msg("skipping undecodable event")
			continue
		}
		s.event = e
		return true
	}
	s.err = s.sc.Err()
	return false
}

// Event returns the event read by the last call to Next.
func (s *EventStream) Event() relay.Event {
	return s.event
}

// Err returns the transport error that ended the stream, if any.
func (s *EventStream) Err() error {
	return s.err
}

// Close releases the connection.
func (s *EventStream) Close() error {
	return s.body.Close()
}
