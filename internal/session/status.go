// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "fmt"

// Status is the state of the session worker.
type Status int

const (
	StatusIdle Status = iota
	StatusThinking
	StatusReplying
	StatusCompressing
	StatusReadingFile
)

// String returns the phase name shown to the user.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusThinking:
		return "Thinking"
	case StatusReplying:
		return "Replying"
	case StatusCompressing:
		return "Compressing memory"
	case StatusReadingFile:
		return "Reading file"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Blocking reports whether new chat input must wait for this phase to end.
// A running reply is not blocking: new input cancels it.
func (s Status) Blocking() bool {
	return s == StatusThinking || s == StatusCompressing || s == StatusReadingFile
}

// transitions lists the allowed moves. A compression turn goes
// Thinking -> Compressing -> Idle in place of Thinking -> Replying -> Idle.
var transitions = map[Status][]Status{
	StatusIdle:        {StatusThinking, StatusReadingFile},
	StatusThinking:    {StatusReplying, StatusCompressing, StatusIdle},
	StatusReplying:    {StatusIdle},
	StatusCompressing: {StatusIdle},
	StatusReadingFile: {StatusIdle},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a move outside the transition table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
