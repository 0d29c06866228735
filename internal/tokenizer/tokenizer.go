// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/eliben/go-sentencepiece"
	"go.uber.org/zap"
)

// Counter returns the number of tokens in text. Implementations must be
// deterministic, return 0 for the empty string and accept any Unicode input.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts an ordinary function to the Counter interface.
type CounterFunc func(text string) int

// Count calls f(text).
func (f CounterFunc) Count(text string) int {
	return f(text)
}

// =============================================================================
// ESTIMATOR
// =============================================================================

// Estimator approximates token counts without a vocabulary.
// Blend of word count and ~4 chars per token, rounded up.
type Estimator struct{}

// Count implements Counter.
func (Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := (len(text) + 3) / 4
	return (words + chars + 1) / 2
}

// =============================================================================
// SENTENCEPIECE
// =============================================================================

// SentencePiece counts tokens with a SentencePiece model file. The model is
// loaded once, on the first call to Count or Load. If loading fails the
// counter falls back to Estimator for the rest of the process.
type SentencePiece struct {
	path   string
	logger *zap.Logger

	once     sync.Once
	proc     *sentencepiece.Processor
	loadErr  error
	fallback Estimator
}

// NewSentencePiece creates a lazily-initialised counter for the model at path.
func NewSentencePiece(path string, logger *zap.Logger) *SentencePiece {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SentencePiece{path: path, logger: logger}
}

// Load initialises the underlying processor if it has not been already and
// reports any load failure.
func (s *SentencePiece) Load() error {
	s.once.Do(func() {
		proc, err := sentencepiece.NewProcessorFromPath(s.path)
		if err != nil {
			s.loadErr = fmt.Errorf("load tokenizer model %s: %w", s.path, err)
			s.logger.Warn("tokenizer model unavailable, using estimator",
				zap.String("path", s.path), zap.Error(err))
			return
		}
		s.proc = proc
		s.logger.Debug("tokenizer model loaded", zap.String("path", s.path))
	})
	return s.loadErr
}

// Count implements Counter.
func (s *SentencePiece) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := s.Load(); err != nil {
		return s.fallback.Count(text)
	}
	return len(s.proc.Encode(text))
}

// Path returns the model file path.
func (s *SentencePiece) Path() string {
	return s.path
}
