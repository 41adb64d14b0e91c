// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// It covers the three calls the relay needs: a reachability check
// (GET /api/tags), model listing (GET /api/tags) and chat
// (POST /api/chat), the latter either single-shot or streamed.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Stream: pull-based reader over a streaming chat reply
//   - ClientError: classified failure with a user-facing message
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	stream, err := client.ChatStream(ctx, "llama2", messages)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Chunk().Content)
//	}
//	if err := stream.Err(); err != nil {
//	    return err
//	}
//
// Every error returned by the package is a *ClientError whose Message is safe
// to show to an end user.
package ollama
