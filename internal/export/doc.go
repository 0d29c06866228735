// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export saves the visible chat transcript to a file.
//
// The transcript is what the user saw, not the model's history: notices,
// cancelled partial replies and file analyses are all kept, and a history
// reset does not erase it.
//
// # Key Types
//
//   - Recorder: Builds a Transcript from session events
//   - Transcript: Ordered entries plus session metadata
//   - Exporter: Format interface (plain text, Markdown, JSON)
//
// # Supported Formats
//
//   - Text (.txt): "You:" / "AI:" lines, like the chat window
//   - Markdown (.md): YAML frontmatter and one section per entry
//   - JSON (.json): The full Transcript structure
//
// # Usage
//
//	rec := export.NewRecorder(export.Meta{Model: "llama3.2", ContextSize: 2048})
//	mgr := session.NewManager(session.Config{Listener: rec.Record, ...})
//	...
//	path, err := export.ToFile(rec.Snapshot(), "chat.md", nil)
package export
