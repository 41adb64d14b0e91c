// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the server and the terminal
// client.
//
//   - AtomicWriteFile: crash-safe file replacement with fsync
//   - TruncateRunes, Preview: UTF-8 safe truncation for logs and listings
package util
