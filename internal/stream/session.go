// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/llm"
)

// =============================================================================
// ERRORS
// =============================================================================

// GenerationError wraps a backend or transport failure.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Cause.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// IsGenerationError reports whether err is a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// =============================================================================
// SESSION
// =============================================================================

// DeltaFunc receives the content of each delivered delta.
type DeltaFunc func(content string)

// Result is the outcome of a Run.
type Result struct {
	// Text is the concatenated content of every delivered delta.
	Text string
	// Deltas is the number of delivered deltas, content-less ones included.
	Deltas int
	// Cancelled is set when the run stopped because Cancel was called.
	Cancelled bool
	// FinishReason is the backend's stop reason, if it reported one.
	FinishReason string
	Elapsed      time.Duration
}

// Session runs one generation request. Cancel may be called from any
// goroutine; everything else belongs to the goroutine calling Run.
type Session struct {
	backend llm.Backend
	logger  *zap.Logger

	cancelled atomic.Bool

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	text       strings.Builder
}

// NewSession creates a session for backend.
func NewSession(backend llm.Backend, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{backend: backend, logger: logger.Named("stream")}
}

// Cancel requests that Run stop at the next delta boundary. It also cancels
// the request context so a blocked pull returns promptly. Safe to call more
// than once, before or during Run.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

func (s *Session) setCancelFunc(fn context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelFunc = fn
}

func (s *Session) clearCancelFunc() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
}

// Run sends req and consumes the stream until it ends, fails or is
// cancelled. A cancelled run returns a Result with Cancelled set and a nil
// error. Failures return the partial Result along with an error that either
// wraps llm.ErrContextExceeded or is a *GenerationError.
func (s *Session) Run(ctx context.Context, req llm.Request, onDelta DeltaFunc) (Result, error) {
	start := time.Now()
	var res Result

	ctx, cancel := context.WithCancel(ctx)
	s.setCancelFunc(cancel)
	defer s.clearCancelFunc()

	finish := func(err error) (Result, error) {
		res.Text = s.Text()
		res.Elapsed = time.Since(start)
		return res, err
	}
	// A cancelled parent context counts as a cancellation, not a failure.
	stopped := func() bool {
		return s.cancelled.Load() || ctx.Err() != nil
	}

	if s.cancelled.Load() {
		res.Cancelled = true
		return finish(nil)
	}

	st, err := s.backend.Stream(ctx, req)
	if err != nil {
		if stopped() {
			res.Cancelled = true
			return finish(nil)
		}
		return finish(s.classify(err))
	}
	defer st.Close()

	for {
		if s.cancelled.Load() {
			res.Cancelled = true
			return finish(nil)
		}

		d, err := st.Next()

		// Checked again after the pull: a delta that arrives after Cancel is
		// never delivered.
		if s.cancelled.Load() {
			res.Cancelled = true
			return finish(nil)
		}
		if errors.Is(err, io.EOF) {
			return finish(nil)
		}
		if err != nil {
			if stopped() {
				res.Cancelled = true
				return finish(nil)
			}
			return finish(s.classify(err))
		}

		res.Deltas++
		if d.FinishReason != "" {
			res.FinishReason = d.FinishReason
		}
		if d.Content != "" {
			s.mu.Lock()
			s.text.WriteString(d.Content)
			s.mu.Unlock()
			if onDelta != nil {
				onDelta(d.Content)
			}
		}
	}
}

func (s *Session) classify(err error) error {
	if llm.IsContextExceeded(err) {
		s.logger.Warn("context exceeded during generation", zap.Error(err))
		return fmt.Errorf("%s stream: %w", s.backend.Name(), err)
	}
	s.logger.Error("generation failed",
		zap.String("backend", s.backend.Name()),
		zap.Error(err))
	return &GenerationError{Cause: err}
}
