// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package window

import (
	"fmt"
	"strings"
)

// =============================================================================
// STRATEGY
// =============================================================================

// Strategy selects how history is kept under budget.
type Strategy string

const (
	SlidingWindow   Strategy = "sliding_window"
	PeriodicSummary Strategy = "periodic_summary"
)

// ParseStrategy parses a configuration value into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case SlidingWindow, PeriodicSummary:
		return st, nil
	}
	return "", fmt.Errorf("unknown context management strategy %q (want %s or %s)", s, SlidingWindow, PeriodicSummary)
}

// =============================================================================
// BUDGET
// =============================================================================

// Threshold ratios of the context size.
const (
	slidingRatio     = 0.7
	summaryRatio     = 0.5
	replyRatioDiv    = 4 // reply cap is a quarter of the context
	chunkRatio       = 0.65
	charsPerToken    = 4
	inputShareDiv    = 5  // 20% of the character limit
	personaShareDiv  = 10 // 10% of the character limit
	summaryCharsDiv  = 4
	minSummaryTokens = 5
)

// Budget derives every threshold from a context size. It is recomputed
// from the current settings at the start of each turn.
type Budget struct {
	ContextSize int
}

// NewBudget returns the budget for contextSize tokens.
func NewBudget(contextSize int) Budget {
	return Budget{ContextSize: contextSize}
}

// SlidingLimit is the token count at or above which the oldest message is
// evicted.
func (b Budget) SlidingLimit() float64 {
	return float64(b.ContextSize) * slidingRatio
}

// SummaryLimit is the history token count at or above which a compression
// turn replaces the normal reply.
func (b Budget) SummaryLimit() int {
	return int(float64(b.ContextSize) * summaryRatio)
}

// ReplyCap is the max_tokens used for normal replies under periodic summary.
func (b Budget) ReplyCap() int {
	return b.ContextSize / replyRatioDiv
}

// ChunkBudget is the per-chunk token target for file analysis.
func (b Budget) ChunkBudget() int {
	return int(float64(b.ContextSize) * chunkRatio)
}

// CharLimit approximates the context size in characters.
func (b Budget) CharLimit() int {
	return b.ContextSize * charsPerToken
}

// InputLimit is the longest accepted user input, in characters.
func (b Budget) InputLimit() int {
	return b.CharLimit() / inputShareDiv
}

// PersonalityLimit is the longest accepted system prompt, in characters.
func (b Budget) PersonalityLimit() int {
	return b.CharLimit() / personaShareDiv
}

// SummaryCharLimit is the length the compression summary is asked to stay under.
func (b Budget) SummaryCharLimit() int {
	return b.CharLimit() / summaryCharsDiv
}

// IdealFileSizeKB is the file size that usually still yields a single
// unified analysis summary.
func (b Budget) IdealFileSizeKB() int {
	return 10 * b.ContextSize / 1024
}
