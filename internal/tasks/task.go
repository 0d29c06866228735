// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides a background task system for long-running operations.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus represents the current state of a background task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task has not started yet
	TaskStatusQueued TaskStatus = "Queued"

	// TaskStatusRunning indicates the task is currently executing
	TaskStatusRunning TaskStatus = "Running"

	// TaskStatusComplete indicates the task finished successfully
	TaskStatusComplete TaskStatus = "Complete"

	// TaskStatusFailed indicates the task returned an error
	TaskStatusFailed TaskStatus = "Failed"

	// TaskStatusCanceled indicates the task was canceled
	TaskStatusCanceled TaskStatus = "Canceled"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed || s == TaskStatusCanceled
}

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Func is the body of a task. It should return promptly once ctx is done.
type Func func(ctx context.Context) error

// Task represents one background operation.
type Task struct {
	// ID is a unique identifier for this task
	ID string

	// Description is a human-readable description of what this task does
	Description string

	status    TaskStatus
	startTime time.Time
	endTime   time.Time
	err       error

	cancel context.CancelFunc
	done   chan struct{}

	mu sync.RWMutex
}

// NewTask creates a queued task with the given description.
func NewTask(description string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		status:      TaskStatusQueued,
		done:        make(chan struct{}),
	}
}

// =============================================================================
// TASK METHODS
// =============================================================================

// Run executes fn on the calling goroutine and closes Done when it returns.
// It must be called at most once. A task cancelled before Run still calls fn,
// with a context that is already done, so the body can release whatever its
// starter set up.
func (t *Task) Run(ctx context.Context, fn Func) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	if t.status == TaskStatusCanceled {
		cancel()
	} else {
		t.status = TaskStatusRunning
		t.startTime = time.Now()
	}
	t.mu.Unlock()

	defer close(t.done)
	defer cancel()

	err := fn(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.endTime = time.Now()
	switch {
	case t.status == TaskStatusCanceled:
		// Cancel already recorded the outcome.
	case err == nil:
		t.status = TaskStatusComplete
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		t.status = TaskStatusCanceled
	default:
		t.status = TaskStatusFailed
		t.err = err
	}
}

// Cancel requests cancellation. It returns false if the task had already
// finished.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Terminal() {
		return false
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.status = TaskStatusCanceled
	if !t.startTime.IsZero() {
		t.endTime = time.Now()
	}
	return true
}

// Done is closed once the task body has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStatus returns the current task status (thread-safe).
func (t *Task) GetStatus() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Err returns the error of a failed task.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Duration returns how long the task has been running or took to complete.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.startTime.IsZero() {
		return 0
	}
	if t.endTime.IsZero() {
		return time.Since(t.startTime)
	}
	return t.endTime.Sub(t.startTime)
}

// Summary returns a one-line summary of the task.
func (t *Task) Summary() string {
	summary := fmt.Sprintf("[%s] %s - %s", t.ID[:8], t.Description, t.GetStatus())
	if d := t.Duration(); d > 0 {
		summary += fmt.Sprintf(" (%.1fs)", d.Seconds())
	}
	return summary
}
