// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// The client implements llm.Backend over the /api/chat endpoint, which
// streams one JSON object per line. Sampling parameters, the context size
// (num_ctx) and the generation cap (num_predict) travel in the request options.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ClientConfig: Base URL, model, timeouts and num_ctx
//   - StreamReader: llm.Stream over a line-delimited JSON response
//   - ClientError: Typed error with ErrorType classification
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    DefaultModel: "llama3.2",
//	    NumCtx:       2048,
//	})
//	stream, err := client.Stream(ctx, llm.Request{Messages: msgs, Params: llm.DefaultParams()})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
// Errors mentioning an exhausted context window wrap llm.ErrContextExceeded.
package ollama
