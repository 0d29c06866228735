// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analysis analyses text files too large for a single request.
//
// The file is split into chunks of about 65% of the context size. Each chunk
// is analysed by its own generation request and the results are concatenated
// under "[PARTi]Ln a-b:" headers. When there is more than one part and the
// concatenation still fits the context, a final request summarises it;
// otherwise the concatenation itself stands in for the summary.
//
// # Key Types
//
//   - Analyzer: Runs the chunk/analyse/summarise pipeline, cancellable
//   - Progress: Part counter and time-remaining estimate
//   - Result: Per-part analyses, the unified summary and any notice
//
// # Usage
//
//	a := analysis.New(analysis.Options{Backend: backend, Counter: counter})
//	res, err := a.AnalyzeFile(ctx, "server.log", 2048)
//	if errors.Is(err, analysis.ErrCancelled) {
//	    return
//	}
//	fmt.Println(res.Summary)
package analysis
