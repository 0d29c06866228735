// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream drives a single generation request.
//
// A Session pulls deltas from an llm.Stream one at a time, accumulating their
// content and forwarding it to a callback. A cancellation flag is checked
// before each pull and after each delta arrives; once it is observed the
// session stops pulling and the delta in hand is dropped, so the accumulated
// text is exactly the content of the deltas already delivered. Whether to keep
// that partial text is the caller's decision.
//
// # Key Types
//
//   - Session: One request, its cancel flag and accumulated text
//   - Result: Final text, delta count and whether the run was cancelled
//   - GenerationError: Any backend failure other than context exhaustion
//
// # Usage
//
//	s := stream.NewSession(backend, logger)
//	res, err := s.Run(ctx, req, func(text string) { fmt.Print(text) })
//	switch {
//	case llm.IsContextExceeded(err):
//	    // wipe history
//	case err != nil:
//	    // log, abort turn
//	case res.Cancelled:
//	    // keep or drop res.Text
//	}
package stream
