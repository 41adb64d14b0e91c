// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// The same types are shared by the relay server, the conversation store and
// the terminal client so their JSON shape stays identical on every hop.
// Conversation ids are UUIDs; message ids are ULIDs, which sort by creation
// time.
package model
