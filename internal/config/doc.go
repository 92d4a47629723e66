// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for llm-arena.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - APIConfig: Endpoint, key and sampling options
//   - StreamConfig: Flush interval and frame size limit
//   - ServerConfig: HTTP API listen address, CORS and rate limits
//   - Watcher: Live reload of the config file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (ARENA_*, OPENAI_API_KEY)
//   - $ARENA_CONFIG or ~/.llm-arena/config.toml
//   - ~/.llm-arena/config.json
//   - ~/.llm-arena/config.yaml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Hand live credentials to the dispatcher:
//
//	w, _ := config.NewWatcher(path, cfg, logger)
//	d := dispatch.New(store, client, w)
package config
