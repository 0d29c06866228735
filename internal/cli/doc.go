// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the ctxchat command line.
//
// Running ctxchat without a subcommand starts an interactive chat with a
// local model server. The conversation is kept inside the configured
// context window by a session.Manager; this package reads input with line
// editing and history, renders events as they arrive and handles signals.
//
// # Key Types
//
//   - chatREPL: Reads lines, dispatches slash commands and drives a session
//   - printer: Terminal output with a transient status line and throttled
//     reply streaming
//   - swappableBackend: llm.Backend rebuilt when the config file changes
//
// # Usage
//
// From main:
//
//	os.Exit(cli.Execute(os.Args[1:]))
//
// # Commands Overview
//
//   - chat: Interactive chat session (default)
//   - analyze: Analyse a text file and print the summary
//   - config: Show, initialise and edit the configuration
//   - version: Print version information
//
// Exit codes follow ExitCode: 2 for usage errors, 3 for configuration
// errors, 5 when the model server is unreachable, 130 on SIGTERM.
package cli
