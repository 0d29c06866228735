// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chunker splits large text into token-bounded, line-labelled chunks.
//
// Lines are accumulated into a running buffer. A chunk is closed as soon as the
// buffer reaches the per-chunk budget (65% of the context size). A buffer that
// reaches the full context size is halved at the last line or sentence break
// before its midpoint; the second half carries over and is labelled from the
// same line. Concatenating every chunk's Text reproduces the input exactly.
//
// # Key Types
//
//   - Chunk: Line range plus the chunk text
//   - Chunker: Pull-based reader yielding chunks until io.EOF
//
// # Usage
//
//	c := chunker.New(file, counter, 2048)
//	for {
//	    chunk, err := c.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package chunker
