// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages and history.
//
// # Key Types
//
//   - Role: Message role enumeration (system, user, assistant)
//   - Message: Single message with a role and text content
//   - History: Ordered, oldest-first list of retained messages
//
// # Usage
//
//	var h model.History
//	h = h.Append(model.NewUserMessage("hello"))
//	joined := h.Joined() // contents joined with "\n"
package model
