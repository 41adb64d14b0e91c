// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"errors"

	"github.com/trahoangdev/mini-chatbot/internal/ollama"
)

// Messages shown to clients.
const (
	MsgMessageRequired = "Message is required"
	MsgProcessFailed   = "Failed to process message"
	MsgNotFound        = "Conversation not found"
)

// ErrValidation is wrapped by every TurnError of KindValidation.
var ErrValidation = errors.New("relay: invalid request")

// ErrClientGone is returned by Turn.Stream when the downstream consumer
// stopped accepting events.
var ErrClientGone = errors.New("relay: downstream consumer gone")

// Kind classifies a failed turn.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUpstreamUnavailable
	KindUpstreamTimeout
	KindUpstreamProtocol
	KindNotFound
	KindClientAbort
)

// String returns a stable label for logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindUpstreamProtocol:
		return "upstream_protocol"
	case KindNotFound:
		return "not_found"
	case KindClientAbort:
		return "client_abort"
	default:
		return "internal"
	}
}

// TurnError is a failed turn. Message is safe to show to users.
type TurnError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindInternal.
func KindOf(err error) Kind {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// PublicMessage returns the text a client should see for err.
func PublicMessage(err error) string {
	var te *TurnError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return MsgProcessFailed
}

func upstreamError(err error) *TurnError {
	kind := KindInternal
	switch ollama.TypeOf(err) {
	case ollama.ErrTypeNotRunning, ollama.ErrTypeConnection:
		kind = KindUpstreamUnavailable
	case ollama.ErrTypeTimeout:
		kind = KindUpstreamTimeout
	case ollama.ErrTypeInvalidResponse, ollama.ErrTypeStream, ollama.ErrTypeModelNotFound:
		kind = KindUpstreamProtocol
	case ollama.ErrTypeCanceled:
		kind = KindClientAbort
	}
	return &TurnError{Kind: kind, Message: ollama.UserMessage(err), Err: err}
}
