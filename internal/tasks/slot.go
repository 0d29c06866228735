// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"sync"
)

// =============================================================================
// SLOT
// =============================================================================

// Slot holds at most one running task. The zero value is ready to use.
//
// A task body must not call back into its own Slot's Start or Close; those
// wait for the body to return.
type Slot struct {
	mu      sync.Mutex
	current *Task
}

// Start cancels and joins the current task, if any, then runs fn as a new
// task on its own goroutine.
func (s *Slot) Start(parent context.Context, description string, fn Func) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.current; prev != nil {
		prev.Cancel()
		<-prev.Done()
	}

	t := NewTask(description)
	s.current = t
	go t.Run(parent, fn)
	return t
}

// Current returns the most recently started task, or nil.
func (s *Slot) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Busy reports whether the current task is still running.
func (s *Slot) Busy() bool {
	t := s.Current()
	if t == nil {
		return false
	}
	select {
	case <-t.Done():
		return false
	default:
		return true
	}
}

// Cancel requests cancellation of the current task without waiting.
func (s *Slot) Cancel() {
	if t := s.Current(); t != nil {
		t.Cancel()
	}
}

// Wait blocks until the current task finishes or ctx is done.
func (s *Slot) Wait(ctx context.Context) error {
	t := s.Current()
	if t == nil {
		return nil
	}
	return t.Wait(ctx)
}

// Close cancels the current task and waits for it.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.current; t != nil {
		t.Cancel()
		<-t.Done()
	}
}
