// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokenizer counts tokens for arbitrary text.
//
// Every budget decision in ctxchat (history eviction, compression triggers,
// file chunking) is made in tokens, so all of them go through a Counter.
//
// # Key Types
//
//   - Counter: Interface returning a token count for a string
//   - SentencePiece: Counter backed by a SentencePiece tokenizer.model,
//     loaded lazily on first use
//   - Estimator: Character/word heuristic used when no model file is available
//   - CounterFunc: Adapter for plain functions
//
// # Usage
//
//	tok := tokenizer.NewSentencePiece("~/.ctxchat/tokenizer.model", logger)
//	n := tok.Count("hello world")
package tokenizer
