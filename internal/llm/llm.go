// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/jeranaias/ctxchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrContextExceeded is returned when the runtime ran out of context window
// while evaluating the prompt or generating.
var ErrContextExceeded = errors.New("context window exceeded")

// IsContextExceeded reports whether err is or wraps ErrContextExceeded.
func IsContextExceeded(err error) bool {
	return errors.Is(err, ErrContextExceeded)
}

// contextExceededMarkers are the phrases llama.cpp and Ollama use when a
// request no longer fits the loaded context.
var contextExceededMarkers = []string{
	"context size",
	"context length",
	"context window",
	"exceeds the available context",
	"exceed context",
	"n_ctx",
}

// LooksLikeContextExceeded reports whether a backend error message describes
// an exhausted context window.
func LooksLikeContextExceeded(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range contextExceededMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// =============================================================================
// REQUEST
// =============================================================================

// DefaultStop is the stop set that keeps the model from writing the user's
// next turn.
var DefaultStop = []string{"<user>", "</user>", "<|user", "<<USER>>", "[/INST]", "<history>", "</history>"}

// Sampling defaults.
const (
	DefaultTemperature   = 0.5
	DefaultTopP          = 0.5
	DefaultRepeatPenalty = 1.17
	DefaultMirostat      = 2

	// SummaryTemperature is used for compression and analysis summaries.
	SummaryTemperature = 0.2
)

// Params are the sampling parameters for one request.
type Params struct {
	// MaxTokens caps generated tokens. Zero means no explicit cap.
	MaxTokens     int
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	Mirostat      int
	Stop          []string
}

// DefaultParams returns the default sampling parameters.
func DefaultParams() Params {
	return Params{
		Temperature:   DefaultTemperature,
		TopP:          DefaultTopP,
		RepeatPenalty: DefaultRepeatPenalty,
		Mirostat:      DefaultMirostat,
		Stop:          append([]string(nil), DefaultStop...),
	}
}

// WithMaxTokens returns a copy of p with MaxTokens set.
func (p Params) WithMaxTokens(n int) Params {
	if n < 0 {
		n = 0
	}
	p.MaxTokens = n
	return p
}

// WithTemperature returns a copy of p with Temperature set.
func (p Params) WithTemperature(t float64) Params {
	p.Temperature = t
	return p
}

// Request is one chat completion request.
type Request struct {
	Messages []model.Message
	Params   Params
}

// =============================================================================
// STREAMING
// =============================================================================

// Delta is one incremental piece of streamed output.
type Delta struct {
	// Content is the generated text. Empty for metadata-only deltas.
	Content string
	// Done is set on the final delta when the backend reports completion.
	Done bool
	// FinishReason is the backend's stop reason, if any ("stop", "length").
	FinishReason string
}

// Stream is a pull-based sequence of deltas. Next returns io.EOF after the
// last delta. Close releases the underlying connection and may be called at
// any point, including before the stream is drained.
type Stream interface {
	Next() (Delta, error)
	Close() error
}

// Backend opens streaming chat completions.
type Backend interface {
	// Name identifies the backend in logs and status output.
	Name() string
	// Stream starts a generation. Errors that occur before any output is
	// produced may be returned here or from the first Next call.
	Stream(ctx context.Context, req Request) (Stream, error)
}
