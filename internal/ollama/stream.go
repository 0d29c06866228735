// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/ctxchat/internal/llm"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of streaming responses.
// It implements llm.Stream.
type StreamReader struct {
	body   io.ReadCloser
	reader *bufio.Reader
	model  string
	done   bool

	// final is set once the line carrying done:true has been read.
	final     bool
	malformed int
	lastBad   error

	promptTokens     int
	completionTokens int
}

var _ llm.Stream = (*StreamReader)(nil)

// NewStreamReader creates a new stream reader from a response body.
func NewStreamReader(r io.ReadCloser) *StreamReader {
	return &StreamReader{
		body:   r,
		reader: bufio.NewReader(r),
	}
}

// Next returns the next delta. A line without message content yields a
// delta with empty Content. io.EOF is returned after the final line; a body
// that ends before the final line yields an ErrTypeInvalidResponse error.
func (s *StreamReader) Next() (llm.Delta, error) {
	for {
		if s.done {
			return llm.Delta{}, io.EOF
		}

		resp, err := s.readChunk()
		if err != nil {
			return llm.Delta{}, err
		}
		if resp == nil {
			continue
		}

		if resp.Error != "" {
			s.done = true
			return llm.Delta{}, apiError(resp.Error)
		}

		if resp.Model != "" {
			s.model = resp.Model
		}

		d := llm.Delta{Done: resp.Done, FinishReason: resp.DoneReason}
		if resp.Message != nil {
			d.Content = resp.Message.Content
		}
		if resp.Done {
			s.done = true
			s.final = true
			s.promptTokens = resp.PromptEvalCount
			s.completionTokens = resp.EvalCount
		}
		return d, nil
	}
}

// readChunk reads and parses a single line from the stream. It returns
// (nil, nil) for blank or malformed lines.
func (s *StreamReader) readChunk() (*ChatResponse, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			s.done = true
			return nil, s.truncated()
		}
		// Try to process the last line even on EOF
		if len(line) == 0 {
			return nil, err
		}
	}

	// Skip empty lines
	if len(line) == 0 || (len(line) == 1 && line[0] == '\n') {
		return nil, nil
	}

	var response ChatResponse
	if err := json.Unmarshal(line, &response); err != nil {
		// Skipped, but counted for the truncation report.
		s.malformed++
		s.lastBad = err
		return nil, nil
	}
	return &response, nil
}

// truncated reports the end of the body. It is a clean io.EOF only when the
// final line was seen.
func (s *StreamReader) truncated() error {
	if s.final {
		return io.EOF
	}
	msg := "stream ended before the final response"
	if s.malformed > 0 {
		msg = fmt.Sprintf("%s (%d malformed lines skipped)", msg, s.malformed)
	}
	cause := s.lastBad
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: msg, Cause: cause}
}

// Malformed returns how many undecodable lines were skipped.
func (s *StreamReader) Malformed() int {
	return s.malformed
}

// Close releases the response body.
func (s *StreamReader) Close() error {
	s.done = true
	return s.body.Close()
}

// Model returns the model name reported by the stream.
func (s *StreamReader) Model() string {
	return s.model
}

// Usage returns prompt and completion token counts from the final line.
func (s *StreamReader) Usage() (prompt, completion int) {
	return s.promptTokens, s.completionTokens
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, r)
	r.Close()
}
