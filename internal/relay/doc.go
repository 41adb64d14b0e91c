// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay runs chat turns against the model backend.
//
// A turn starts with StartTurn, which validates the message, resolves or
// creates the conversation and stores the user message before anything is
// sent downstream. The turn then either streams (Turn.Stream), emitting one
// Event per fragment with the cumulative text so far, or completes in one
// call (Service.Send). On failure the user message stays in the store and no
// assistant message is added.
package relay
