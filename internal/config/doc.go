// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the relay server and the
// terminal client.
//
// Sources, lowest precedence first:
//
//  1. Built-in defaults (Default)
//  2. ~/.minichat/config.toml, or ~/.minichat/config.json if no TOML exists
//  3. A .env file in the working directory (never overrides real env vars)
//  4. Environment variables (see ApplyEnvOverrides)
//
// Durations are written as Go duration strings ("180s", "15m") in both
// file formats.
//
// # Example config.toml
//
//	[server]
//	addr = ":3001"
//	rate_limit = 100
//	rate_window = "15m"
//	write_timeout = "60s"
//
//	[ollama]
//	url = "http://localhost:11434"
//	default_model = "llama2"
//	chat_timeout = "180s"
//
//	[store]
//	backend = "redis"
//	redis_url = "redis://localhost:6379/0"
package config
