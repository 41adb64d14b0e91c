// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat relay over HTTP.
//
// Endpoints (under the configured API prefix, default /api/v1):
//   - GET    /chat/health              - Ollama reachability
//   - GET    /chat/models              - Installed model names
//   - POST   /chat/message             - One complete turn, JSON reply
//   - POST   /chat/message/stream      - One turn as server-sent events
//   - GET    /chat/conversation/{id}   - Stored conversation
//   - DELETE /chat/conversation/{id}   - Clear a conversation (idempotent)
//
// Outside the prefix:
//   - GET /health  - Process liveness
//   - GET /metrics - Prometheus metrics
//
// Every stream frame is "data: <json>\n\n" carrying a relay.Event; while a
// turn is in flight a ": ping" comment is written at the heartbeat interval.
package server
