// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm defines the contract between ctxchat and a language-model runtime.
//
// A Backend turns a Request (messages plus sampling parameters) into a Stream
// of Deltas. Streams are pulled one delta at a time; io.EOF marks a normal end.
// Backends report an exhausted context window with ErrContextExceeded so callers
// can wipe history instead of treating it as an ordinary failure.
//
// # Key Types
//
//   - Backend: Opens a streaming chat completion
//   - Stream: Pull-based iterator over Deltas
//   - Delta: One incremental fragment of output
//   - Params: Sampling parameters (temperature, top_p, repeat penalty, ...)
//
// # Usage
//
//	stream, err := backend.Stream(ctx, llm.Request{Messages: msgs, Params: llm.DefaultParams()})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    d, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package llm
