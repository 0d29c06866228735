// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"time"

	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/model"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message on the wire.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`             // Model name (e.g., "llama3.2")
	Messages []Message `json:"messages"`          // Prompt messages, system first
	Stream   bool      `json:"stream"`            // Always true for ctxchat
	Options  *Options  `json:"options,omitempty"` // Sampling and context parameters
}

// Options contains model parameters for inference.
type Options struct {
	// Sampling parameters
	Temperature   float64 `json:"temperature,omitempty"`    // 0.0-2.0
	TopP          float64 `json:"top_p,omitempty"`          // 0.0-1.0
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"` // 1.0 disables
	Mirostat      int     `json:"mirostat,omitempty"`       // 0 off, 1 or 2

	// Context parameters
	NumCtx     int `json:"num_ctx,omitempty"`     // Context window size
	NumPredict int `json:"num_predict,omitempty"` // Max tokens to generate

	// Stopping
	Stop []string `json:"stop,omitempty"` // Stop sequences
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is one line of the /api/chat stream.
type ChatResponse struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	Message    *Message  `json:"message,omitempty"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`
	Error      string    `json:"error,omitempty"`

	PromptEvalCount int   `json:"prompt_eval_count,omitempty"` // number of tokens in prompt
	EvalCount       int   `json:"eval_count,omitempty"`        // number of tokens generated
	EvalDuration    int64 `json:"eval_duration,omitempty"`     // nanoseconds
}

// ModelInfo contains information about a locally available model.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// CONVERSION
// =============================================================================

// ToMessages converts chat history messages to wire messages.
func ToMessages(msgs []model.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role.String(), Content: m.Content}
	}
	return out
}

// ToOptions maps sampling parameters onto Ollama options.
func ToOptions(p llm.Params, numCtx int) *Options {
	return &Options{
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		RepeatPenalty: p.RepeatPenalty,
		Mirostat:      p.Mirostat,
		NumCtx:        numCtx,
		NumPredict:    p.MaxTokens,
		Stop:          p.Stop,
	}
}
