// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for mini-chatbot.
//
// Two kinds of storage live here:
//
// Server side, ConversationStore holds the relay's short-lived chat
// histories. It is bounded: once more than Capacity conversations are
// present, the one inserted longest ago is evicted. Overwriting an existing
// conversation keeps its original position. Two implementations exist:
//
//   - MemoryStore: process-local, the default
//   - RedisStore: shared between relay replicas, same eviction order
//
// Client side, History keeps the terminal client's own list of recent
// conversations in a JSON file, most recent first.
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.Options{Backend: "memory", Capacity: 100})
//	conv, err := store.Get(ctx, id)
//	if errors.Is(err, storage.ErrConversationNotFound) {
//	    conv = model.NewConversation(defaultModel)
//	}
//	err = store.Put(ctx, conv)
package storage
