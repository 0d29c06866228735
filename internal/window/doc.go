// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package window keeps the conversation history inside the token budget.
//
// Before every turn the Manager turns the retained history plus the new user
// input into a Plan. Under the sliding window strategy the oldest messages are
// evicted until the joined history is below 70% of the context size. Under the
// periodic summary strategy a normal reply is planned while the history is
// below 50% of the context size; beyond that the Plan is a compression turn
// whose summary replaces the whole history.
//
// # Key Types
//
//   - Budget: Thresholds derived from the context size
//   - Settings: Per-turn snapshot of strategy, context size and history mode
//   - Plan: The request to send and how its outcome is applied
//   - Manager: Owns the history (not safe for concurrent use)
//
// # Usage
//
//	m := window.NewManager(counter, logger)
//	plan, err := m.Plan(settings, "hello")
//	if errors.Is(err, window.ErrBudgetRejected) {
//	    ...
//	}
//	// stream plan.Request, then
//	m.CommitReply(plan, reply)
package window
