// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chunker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jeranaias/ctxchat/internal/tokenizer"
)

// BudgetRatio is the share of the context size a single chunk aims for.
const BudgetRatio = 0.65

// =============================================================================
// CHUNK
// =============================================================================

// Chunk is one token-bounded slice of the source text.
type Chunk struct {
	StartLine int    // 1-based first line
	EndLine   int    // 1-based last line, inclusive
	Text      string // raw text including line terminators
}

// Label returns the line range descriptor, e.g. "Ln 3-9".
func (c Chunk) Label() string {
	return fmt.Sprintf("Ln %d-%d", c.StartLine, c.EndLine)
}

// =============================================================================
// CHUNKER
// =============================================================================

// Chunker lazily produces chunks from a reader. It is not safe for
// concurrent use.
type Chunker struct {
	r           *bufio.Reader
	counter     tokenizer.Counter
	contextSize int
	budget      int

	buf     strings.Builder
	start   int // first line of the running buffer
	line    int // last line read
	emitted int
	pending []Chunk
	eof     bool
}

// New creates a Chunker reading from r. contextSize is the hard ceiling for
// a single chunk; the per-chunk budget is derived from it.
func New(r io.Reader, counter tokenizer.Counter, contextSize int) *Chunker {
	if counter == nil {
		counter = tokenizer.Estimator{}
	}
	return &Chunker{
		r:           bufio.NewReader(r),
		counter:     counter,
		contextSize: contextSize,
		budget:      Budget(contextSize),
		start:       1,
	}
}

// Budget returns the per-chunk token budget for a context size.
func Budget(contextSize int) int {
	return int(float64(contextSize) * BudgetRatio)
}

// Next returns the next chunk, or io.EOF once the input is exhausted.
// Empty input yields exactly one empty chunk labelled "Ln 1-1".
func (c *Chunker) Next() (Chunk, error) {
	for len(c.pending) == 0 {
		if c.eof {
			return Chunk{}, io.EOF
		}
		if err := c.readLine(); err != nil {
			return Chunk{}, err
		}
	}

	chunk := c.pending[0]
	c.pending = c.pending[1:]
	c.emitted++
	return chunk, nil
}

// readLine consumes one line and queues any chunks it closes.
func (c *Chunker) readLine() error {
	text, err := c.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read line %d: %w", c.line+1, err)
	}

	if text != "" {
		c.line++
		c.buf.WriteString(text)
		c.measure()
	}

	if errors.Is(err, io.EOF) {
		c.eof = true
		c.flush()
	}
	return nil
}

// measure closes the running buffer when it reaches the budget and halves it
// while it is at or above the context size.
func (c *Chunker) measure() {
	n := c.counter.Count(c.buf.String())
	if n < c.contextSize {
		if n >= c.budget {
			c.emit(c.buf.String(), c.line)
			c.buf.Reset()
			c.start = c.line + 1
		}
		return
	}

	rest := c.buf.String()
	for {
		first, second := Halve(rest)
		if second == "" {
			// Unsplittable; keep as is.
			break
		}
		c.emit(first, c.line)
		c.start = c.line
		rest = second
		if c.counter.Count(rest) < c.contextSize {
			break
		}
	}
	c.buf.Reset()
	c.buf.WriteString(rest)
}

func (c *Chunker) flush() {
	last := c.line
	if last == 0 {
		last = 1
	}
	if c.buf.Len() > 0 || c.emitted+len(c.pending) == 0 {
		c.emit(c.buf.String(), last)
		c.buf.Reset()
	}
}

func (c *Chunker) emit(text string, end int) {
	c.pending = append(c.pending, Chunk{StartLine: c.start, EndLine: end, Text: text})
}

// Split reads all of r and returns every chunk.
func Split(r io.Reader, counter tokenizer.Counter, contextSize int) ([]Chunk, error) {
	c := New(r, counter, contextSize)
	var chunks []Chunk
	for {
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

// =============================================================================
// HALVING
// =============================================================================

var breakpoints = []string{"\n", ". ", "! "}

// Halve splits text in two at the last line break, ". " or "! " that ends at
// or before the midpoint, keeping the delimiter in the first half. Without
// such a boundary it splits at the midpoint, moved back to a rune start.
// Text shorter than two bytes cannot be split and is returned whole.
func Halve(text string) (string, string) {
	if len(text) < 2 {
		return text, ""
	}

	mid := len(text) / 2
	for mid > 0 && !utf8.RuneStart(text[mid]) {
		mid--
	}
	if mid == 0 {
		// A single multi-byte rune spans the midpoint; cut after it.
		_, size := utf8.DecodeRuneInString(text)
		if size >= len(text) {
			return text, ""
		}
		mid = size
	}

	cut := -1
	head := text[:mid]
	for _, bp := range breakpoints {
		if i := strings.LastIndex(head, bp); i >= 0 && i+len(bp) > cut {
			cut = i + len(bp)
		}
	}
	if cut <= 0 || cut >= len(text) {
		cut = mid
	}
	return text[:cut], text[cut:]
}
