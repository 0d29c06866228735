// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for ctxchat.
//
// Supports TOML, YAML and JSON configuration files, with sensible defaults,
// environment variable overrides, validation and live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - AIConfig: Context size, context management strategy, history, personality
//   - BackendConfig: Model server kind, URL and model
//   - Store: Current configuration shared with running sessions
//   - Watcher: Reloads the file into a Store when it changes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CTXCHAT_*)
//   - $CTXCHAT_CONFIG, or the first of ~/.ctxchat/config.{toml,yaml,yml,json}
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
// Share it with a session and pick up edits on the next turn:
//
//	store := config.NewStore(cfg)
//	w, _ := config.NewWatcher(store, path, config.WatchOptions{})
//	_ = w.Start()
//	defer w.Close()
//
//	settings := store.Snapshot()
package config
