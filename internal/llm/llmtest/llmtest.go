// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llmtest provides a scripted llm.Backend for tests.
package llmtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/jeranaias/ctxchat/internal/llm"
)

// ErrNoReply is returned by Backend.Stream when the script is exhausted.
var ErrNoReply = errors.New("llmtest: no scripted reply")

// Reply scripts the outcome of one Backend.Stream call.
type Reply struct {
	// Deltas are returned in order by Next.
	Deltas []llm.Delta
	// Err is returned by Next after the deltas instead of io.EOF.
	Err error
	// OpenErr is returned by Backend.Stream itself.
	OpenErr error
	// Gate, when set, makes every Next wait for a value (or a close) before
	// returning, so tests can hold a stream mid-flight.
	Gate <-chan struct{}
}

// Text builds content deltas for parts followed by a final Done delta.
func Text(parts ...string) []llm.Delta {
	out := make([]llm.Delta, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, llm.Delta{Content: p})
	}
	return append(out, llm.Delta{Done: true, FinishReason: "stop"})
}

// Backend is a scripted llm.Backend. It is safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
	closed   int
}

// New creates a backend that answers successive Stream calls with replies.
func New(replies ...Reply) *Backend {
	return &Backend{replies: replies}
}

// Push appends more scripted replies.
func (b *Backend) Push(replies ...Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, replies...)
}

// Name implements llm.Backend.
func (b *Backend) Name() string { return "scripted" }

// Stream implements llm.Backend.
func (b *Backend) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)
	if len(b.replies) == 0 {
		return nil, ErrNoReply
	}
	r := b.replies[0]
	b.replies = b.replies[1:]
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	return &stream{ctx: ctx, reply: r, owner: b}, nil
}

// Requests returns a copy of every request received so far.
func (b *Backend) Requests() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.requests...)
}

// Calls returns the number of Stream calls.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// Closed returns how many streams have been closed.
func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type stream struct {
	ctx    context.Context
	reply  Reply
	owner  *Backend
	pos    int
	closed bool
}

func (s *stream) Next() (llm.Delta, error) {
	if s.closed {
		return llm.Delta{}, io.ErrClosedPipe
	}
	if s.reply.Gate != nil {
		select {
		case <-s.reply.Gate:
		case <-s.ctx.Done():
			return llm.Delta{}, s.ctx.Err()
		}
	}
	if s.pos < len(s.reply.Deltas) {
		d := s.reply.Deltas[s.pos]
		s.pos++
		return d, nil
	}
	if s.reply.Err != nil {
		return llm.Delta{}, s.reply.Err
	}
	return llm.Delta{}, io.EOF
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.owner.mu.Lock()
	s.owner.closed++
	s.owner.mu.Unlock()
	return nil
}
