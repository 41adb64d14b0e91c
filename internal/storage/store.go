// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/trahoangdev/mini-chatbot/internal/model"
)

// DefaultCapacity is the number of conversations the relay keeps.
const DefaultCapacity = 100

// =============================================================================
// STORE INTERFACE
// =============================================================================

// ConversationStore is a bounded map from conversation id to history.
//
// Implementations must be safe for concurrent use. Get and Put exchange
// copies, so callers may mutate what they hold without a lock. Concurrent
// Puts for the same id resolve as last writer wins.
type ConversationStore interface {
	// Get returns a copy of the conversation or ErrConversationNotFound.
	Get(ctx context.Context, id string) (*model.Conversation, error)

	// Put inserts or overwrites conv. Inserting past capacity evicts the
	// conversation inserted longest ago.
	Put(ctx context.Context, conv *model.Conversation) error

	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Len returns the number of stored conversations.
	Len(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// EvictFunc is called with the id of every conversation dropped for
// capacity. It must not call back into the store.
type EvictFunc func(id string)

// =============================================================================
// FACTORY
// =============================================================================

// Options selects and configures a backend.
type Options struct {
	// Backend is "memory" (default) or "redis".
	Backend string

	// Capacity bounds the number of conversations (default 100).
	Capacity int

	// RedisURL is a redis:// URL, used when Backend is "redis".
	RedisURL string

	// KeyPrefix namespaces redis keys.
	KeyPrefix string

	// TTL expires idle redis conversations; zero keeps them until evicted.
	TTL time.Duration

	// OnEvict observes capacity evictions.
	OnEvict EvictFunc
}

// Open creates the store described by opts.
func Open(ctx context.Context, opts Options) (ConversationStore, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(opts.Capacity, opts.OnEvict), nil
	case "redis":
		return DialRedis(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
