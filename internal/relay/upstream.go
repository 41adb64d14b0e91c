// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"

	"github.com/trahoangdev/mini-chatbot/internal/ollama"
)

// FragmentStream yields the fragments of one streaming reply.
// *ollama.Stream implements it.
type FragmentStream interface {
	Next() bool
	Chunk() ollama.StreamChunk
	Err() error
	Close() error
}

// Upstream is the model backend a Service talks to.
type Upstream interface {
	Chat(ctx context.Context, model string, messages []ollama.Message) (*ollama.ChatResponse, error)
	ChatStream(ctx context.Context, model string, messages []ollama.Message) (FragmentStream, error)
}

// OllamaUpstream adapts an Ollama client to Upstream.
func OllamaUpstream(c *ollama.Client) Upstream {
	return ollamaUpstream{c}
}

type ollamaUpstream struct {
	*ollama.Client
}

func (u ollamaUpstream) ChatStream(ctx context.Context, model string, messages []ollama.Message) (FragmentStream, error) {
	s, err := u.Client.ChatStream(ctx, model, messages)
	if err != nil {
		return nil, err
	}
	return s, nil
}
