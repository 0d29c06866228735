// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llamacpp implements llm.Backend against a llama.cpp server.
//
// llama.cpp's server exposes an OpenAI-compatible /v1/chat/completions
// endpoint; requests go through the openai-go SDK, with the llama.cpp
// sampling extensions (repeat_penalty, mirostat) and the stop set added as
// extra JSON fields.
//
// # Key Types
//
//   - Client: llm.Backend for a llama.cpp server
//   - Config: Base URL, model alias and API key
//
// # Usage
//
//	backend := llamacpp.New(llamacpp.Config{BaseURL: "http://127.0.0.1:8080/v1"})
//	stream, err := backend.Stream(ctx, req)
package llamacpp
