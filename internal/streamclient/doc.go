// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package streamclient is the client side of the chat relay.
//
// Client wraps the relay's HTTP API. Chat keeps the local message list for
// one conversation: it shows the user message and an empty assistant
// placeholder as soon as a message is sent, replaces the placeholder text
// with each cumulative chunk, and on failure swaps the placeholder for a
// system "Error: ..." message. Finished exchanges are folded into the local
// history file.
package streamclient
