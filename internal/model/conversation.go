// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Conversation is an ordered chat history bound to one model.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	Model     string    `json:"model"`
}

// NewConversation creates an empty conversation with a fresh id.
func NewConversation(model string) *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		Messages:  make([]Message, 0),
		CreatedAt: time.Now().UTC(),
		Model:     model,
	}
}

// AddMessage appends msg to the history.
func (c *Conversation) AddMessage(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// AddUserMessage creates, appends and returns a user message.
func (c *Conversation) AddUserMessage(content string) Message {
	msg := NewMessage(RoleUser, content)
	c.AddMessage(msg)
	return msg
}

// AddAssistantMessage appends a finished assistant message with the given id.
// The id is fixed for the whole turn so streamed events and the stored
// message agree.
func (c *Conversation) AddAssistantMessage(id, content string) Message {
	msg := NewMessage(RoleAssistant, content)
	if id != "" {
		msg.ID = id
	}
	c.AddMessage(msg)
	return msg
}

// LastMessage returns the most recent message, or false if empty.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// Clone returns a deep copy. Messages are plain values, so copying the slice
// is enough.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = slices.Clone(c.Messages)
	if out.Messages == nil {
		out.Messages = make([]Message, 0)
	}
	return &out
}
