// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "github.com/jeranaias/ctxchat/internal/analysis"

// EventKind identifies an Event.
type EventKind int

const (
	// EventStatus: Status changed. StatusText carries the display text.
	EventStatus EventKind = iota
	// EventUser: a turn accepted Text as user input.
	EventUser
	// EventDelta: Text is the next fragment of the reply.
	EventDelta
	// EventReply: the reply finished. Text is the whole reply; Cancelled is
	// set when it was stopped early.
	EventReply
	// EventNotice: Text is a notice for the transcript.
	EventNotice
	// EventProgress: file analysis progress in Progress and StatusText.
	EventProgress
	// EventAnalysis: Analysis holds the finished file analysis.
	EventAnalysis
	// EventDeferred: Text was not answered and should be offered again.
	EventDeferred
	// EventTurnDone: the turn ended. Err holds a *TurnError on failure.
	EventTurnDone
)

// Event is delivered to the Listener. Events of one turn arrive in order
// from the worker goroutine; rejections arrive on the caller's goroutine.
type Event struct {
	Kind       EventKind
	TurnID     string
	Status     Status
	StatusText string
	Text       string
	Cancelled  bool
	Progress   analysis.Progress
	Analysis   *analysis.Result
	Err        error
}

// Listener receives session events. It must not call back into the Manager's
// Submit, AnalyzeFile, Reset or Close.
type Listener func(Event)
