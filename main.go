// minichat - Streaming chat relay and terminal client for a local Ollama.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/trahoangdev/mini-chatbot/internal/cli"

func main() {
	cli.Execute()
}
