// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks runs long operations on a background goroutine with
// cancellation and join support.
//
// A Slot holds at most one running Task. Starting a new task first cancels
// the current one and waits for it to finish, so two tasks started through
// the same Slot never overlap.
//
// # Key Types
//
//   - Task: One background operation with status, cancel and done signal
//   - TaskStatus: Task status enumeration (Queued, Running, Complete, Failed, Canceled)
//   - Slot: Single-slot holder enforcing join-before-start
//
// # Usage
//
//	var slot tasks.Slot
//	task := slot.Start(ctx, "reply", func(ctx context.Context) error {
//	    return generate(ctx)
//	})
//	<-task.Done()
//	if err := task.Err(); err != nil {
//	    log.Printf("task failed: %v", err)
//	}
package tasks
