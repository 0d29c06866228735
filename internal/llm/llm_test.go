// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()

	assert.Equal(t, 0.5, p.Temperature)
	assert.Equal(t, 0.5, p.TopP)
	assert.Equal(t, 1.17, p.RepeatPenalty)
	assert.Equal(t, 2, p.Mirostat)
	assert.Equal(t, 0, p.MaxTokens)
	assert.Equal(t, DefaultStop, p.Stop)

	// The stop slice must not alias the package default.
	p.Stop[0] = "changed"
	assert.Equal(t, "<user>", DefaultStop[0])
}

func TestParams_With(t *testing.T) {
	base := DefaultParams()

	p := base.WithMaxTokens(512).WithTemperature(SummaryTemperature)
	assert.Equal(t, 512, p.MaxTokens)
	assert.Equal(t, 0.2, p.Temperature)
	assert.Equal(t, 0, base.MaxTokens)
	assert.Equal(t, 0.5, base.Temperature)

	assert.Equal(t, 0, base.WithMaxTokens(-3).MaxTokens)
}

func TestLooksLikeContextExceeded(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"the request exceeds the available context size, try increasing it", true},
		{"Requested tokens (3000) exceed context window of 2048", true},
		{"input length exceeds the context length", true},
		{"model 'foo' not found", false},
		{"connection refused", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.want, LooksLikeContextExceeded(tc.msg))
		})
	}
}

func TestIsContextExceeded(t *testing.T) {
	assert.True(t, IsContextExceeded(ErrContextExceeded))
	assert.True(t, IsContextExceeded(fmt.Errorf("stream: %w", ErrContextExceeded)))
	assert.False(t, IsContextExceeded(errors.New("context window exceeded")))
	assert.False(t, IsContextExceeded(nil))
}
