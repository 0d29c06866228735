// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs chat turns and file analyses against a backend.
//
// A Manager owns the conversation history and a closed status state machine
// (Idle, Thinking, Replying, Compressing, ReadingFile). Turns run one at a
// time on a single-slot worker: a new turn cancels and joins a running reply
// before it starts, and is refused while the assistant is thinking,
// compressing memory or reading a file.
//
// Everything the presentation layer needs is delivered as Events to a
// Listener: status changes, streamed deltas, finished replies, progress and
// user-visible notices.
//
// # Key Types
//
//   - Manager: Session lifecycle, Submit/AnalyzeFile/Cancel/Reset
//   - Status: Turn state with an explicit transition table
//   - Event, Listener: Output stream for the presentation layer
//   - TurnError: Failed turn with a kind (budget, context, compression, generation)
//
// # Usage
//
//	m := session.NewManager(session.Config{
//	    Backend:  backend,
//	    Counter:  counter,
//	    Settings: store.Settings,
//	    Listener: func(e session.Event) { render(e) },
//	})
//	if err := m.Open(ctx); err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	if err := m.Submit("hello"); errors.Is(err, session.ErrBusy) {
//	    // still thinking
//	}
package session
