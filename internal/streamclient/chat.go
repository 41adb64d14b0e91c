// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streamclient

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/trahoangdev/mini-chatbot/internal/model"
	"github.com/trahoangdev/mini-chatbot/internal/relay"
	"github.com/trahoangdev/mini-chatbot/internal/storage"
)

// Chat is the local state of one conversation. Methods are safe for
// concurrent use; only one Send runs at a time.
type Chat struct {
	client  *Client
	history *storage.History
	log     zerolog.Logger

	mu             sync.Mutex
	model          string
	conversationID string
	messages       []model.Message
	loading        bool
	abort          context.CancelCauseFunc
}

// NewChat creates an empty chat. history may be nil to skip persistence.
func NewChat(client *Client, history *storage.History, modelName string) *Chat {
	return &Chat{
		client:  client,
		history: history,
		model:   modelName,
		log:     client.log.With().Str("component", "chat").Logger(),
	}
}

// Messages returns a copy of the local message list.
func (c *Chat) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// ConversationID returns the server conversation id, empty before the first
// reply.
func (c *Chat) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Model returns the model requested for new conversations.
func (c *Chat) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel changes the model. The server keeps a conversation's model, so
// the change takes effect from the next new conversation.
func (c *Chat) SetModel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = name
}

// Loading reports whether a turn is in flight.
func (c *Chat) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Resume replaces the local state with a history entry.
func (c *Chat) Resume(entry storage.HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = entry.ID
	c.messages = slices.Clone(entry.Messages)
	if entry.Model != "" {
		c.model = entry.Model
	}
}

// Reset clears the conversation on the server and locally. Local state is
// cleared even if the server call fails.
func (c *Chat) Reset(ctx context.Context) error {
	c.mu.Lock()
	id := c.conversationID
	c.conversationID = ""
	c.messages = nil
	c.mu.Unlock()

	if id == "" {
		return nil
	}
	return c.client.Clear(ctx, id)
}

// Abort cancels the turn in flight, if any.
func (c *Chat) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abort != nil {
		c.abort(ErrAborted)
	}
}

// Send streams one turn. onUpdate, if set, is called with the assistant
// message after every chunk.
//
// On success the finished assistant message is returned and the exchange is
// recorded in history. On failure, abort or timeout the placeholder is
// replaced by a system error message and the error is returned; the user
// message stays.
func (c *Chat) Send(ctx context.Context, text string, onUpdate func(model.Message)) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, ErrEmptyMessage
	}

	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	ctx, cancel := context.WithTimeoutCause(ctx, c.client.Timeout(), ErrTimeout)
	defer cancel()

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return model.Message{}, ErrBusy
	}
	c.loading = true
	c.abort = abort
	c.messages = append(c.messages, model.NewMessage(model.RoleUser, text))
	placeholder := model.NewPlaceholder()
	c.messages = append(c.messages, placeholder)
	req := relay.Request{Message: text, Model: c.model, ConversationID: c.conversationID}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.abort = nil
		c.mu.Unlock()
	}()

	msg, err := c.stream(ctx, req, placeholder.ID, onUpdate)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			if errors.Is(cause, ErrTimeout) {
				err = ErrTimeout
			} else {
				err = errors.Join(ErrAborted, cause)
			}
		}
		c.fail(placeholder.ID, err)
		return model.Message{}, err
	}

	c.record()
	return msg, nil
}

// stream consumes the event stream, updating the placeholder in place.
func (c *Chat) stream(ctx context.Context, req relay.Request, placeholderID string, onUpdate func(model.Message)) (model.Message, error) {
	events, err := c.client.Stream(ctx, req)
	if err != nil {
		return model.Message{}, err
	}
	defer events.Close()

	for events.Next() {
		e := events.Event()
		if !e.Success {
			return model.Message{}, &APIError{Message: e.Error}
		}

		c.mu.Lock()
		if e.ConversationID != "" {
			c.conversationID = e.ConversationID
		}
		i := c.indexOf(placeholderID)
		if i < 0 {
			c.mu.Unlock()
			return model.Message{}, ErrAborted
		}
		m := &c.messages[i]
		if e.Chunk != "" || e.Done {
			m.Content = e.Chunk
		}
		m.Streaming = !e.Done
		snapshot := *m
		c.mu.Unlock()

		if onUpdate != nil {
			onUpdate(snapshot)
		}
		if e.Done {
			return snapshot, nil
		}
	}
	if err := events.Err(); err != nil {
		return model.Message{}, err
	}
	return model.Message{}, ErrIncomplete
}

// fail removes the placeholder and appends a system error message.
func (c *Chat) fail(placeholderID string, err error) {
	c.log.Debug().Err(err).Msg("turn failed")

	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(placeholderID); i >= 0 {
		c.messages = slices.Delete(c.messages, i, i+1)
	}
	c.messages = append(c.messages, model.NewMessage(model.RoleSystem, "Error: "+DisplayMessage(err)))
}

// record folds the conversation into the local history.
func (c *Chat) record() {
	if c.history == nil {
		return
	}
	c.mu.Lock()
	id, name, msgs := c.conversationID, c.model, slices.Clone(c.messages)
	c.mu.Unlock()

	if id == "" {
		return
	}
	if err := c.history.Record(id, name, msgs); err != nil {
		c.log.Warn().Err(err).Msg("saving history failed")
	}
}

func (c *Chat) indexOf(id string) int {
	return slices.IndexFunc(c.messages, func(m model.Message) bool { return m.ID == id })
}
