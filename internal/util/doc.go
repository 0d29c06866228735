// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the ctxchat packages.
//
// # Key Functions
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, StringWidth, PadWidth: terminal column arithmetic
//   - NormalizeInput: NFC normalisation of typed input
//
// Files:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	// Fit a status line to the terminal
//	line := util.TruncateWidth(status, width)
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0o600)
package util
