// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/llm/llmtest"
	"github.com/jeranaias/ctxchat/internal/model"
	"github.com/jeranaias/ctxchat/internal/stream"
	"github.com/jeranaias/ctxchat/internal/tokenizer"
)

// wordCounter treats every whitespace separated word as one token.
var wordCounter = tokenizer.CounterFunc(func(s string) int { return len(strings.Fields(s)) })

// sevenLines has seven five-word lines; with a context of 20 it splits into
// Ln 1-3, Ln 4-6 and Ln 7-7.
var sevenLines = strings.Repeat("the quick brown fox jumps\n", 7)

// tickClock advances step on every call, ten seconds when step is zero.
type tickClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := c.step
	if step == 0 {
		step = 10 * time.Second
	}
	c.now = c.now.Add(step)
	return c.now
}

func newAnalyzer(b llm.Backend, progress *[]Progress) *Analyzer {
	return newAnalyzerWithClock(b, progress, &tickClock{})
}

func newAnalyzerWithClock(b llm.Backend, progress *[]Progress, clock *tickClock) *Analyzer {
	return New(Options{
		Backend: b,
		Counter: wordCounter,
		Now:     clock.Now,
		OnProgress: func(p Progress) {
			if progress != nil {
				*progress = append(*progress, p)
			}
		},
	})
}

func TestAnalyze_SingleChunk(t *testing.T) {
	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("It is ", "fine.")})
	a := newAnalyzer(b, nil)

	res, err := a.Analyze(context.Background(), strings.NewReader("alpha beta gamma delta\nalpha beta gamma delta\n"), 20)
	require.NoError(t, err)

	assert.Equal(t, "[PART1]Ln 1-2:\nIt is fine.", res.Analysis)
	assert.Equal(t, res.Analysis, res.Summary)
	assert.False(t, res.Unified)
	assert.Empty(t, res.Notice)
	require.Len(t, res.Parts, 1)
	assert.Equal(t, "It is fine.", res.Parts[0].Analysis)

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are a File Analysis AI. Don't reveal your role. You reply with less than 12 tokens.", msgs[0].Content)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "Explain the text within [txt]"))
	assert.Contains(t, msgs[1].Content, "[txt][PART1]\nalpha beta gamma delta\n")
	assert.True(t, strings.HasSuffix(msgs[1].Content, "[txt]"))
	assert.Equal(t, 12, reqs[0].Params.MaxTokens)
	assert.Equal(t, llm.SummaryTemperature, reqs[0].Params.Temperature)
}

func TestAnalyze_MultiChunkWithSummary(t *testing.T) {
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("one")},
		llmtest.Reply{Deltas: llmtest.Text("two")},
		llmtest.Reply{Deltas: llmtest.Text("three")},
		llmtest.Reply{Deltas: llmtest.Text("all ", "good")},
	)
	var progress []Progress
	a := newAnalyzer(b, &progress)

	res, err := a.Analyze(context.Background(), strings.NewReader(sevenLines), 20)
	require.NoError(t, err)

	assert.Equal(t, "[PART1]Ln 1-3:\none\n\n[PART2]Ln 4-6:\ntwo\n\n[PART3]Ln 7-7:\nthree", res.Analysis)
	assert.Equal(t, "all good", res.Summary)
	assert.True(t, res.Unified)
	assert.Empty(t, res.Notice)
	require.Len(t, res.Parts, 3)
	assert.Equal(t, "Ln 4-6", res.Parts[1].Label)

	reqs := b.Requests()
	require.Len(t, reqs, 4)
	// Nine words of analysis leave eleven tokens for the summary.
	summary := reqs[3]
	assert.Equal(t, 11, summary.Params.MaxTokens)
	assert.Equal(t, "You are a File Analysis AI. Don't reveal your role. You reply with less than 11 tokens.", summary.Messages[0].Content)
	assert.Equal(t, "Summarise the analysis within [txt]. Be direct and concise.[txt]"+res.Analysis+"[txt]", summary.Messages[1].Content)

	require.Len(t, progress, 5)
	assert.Equal(t, "Reading file", progress[0].Status())
	assert.Equal(t, "Processing Part 1/3 (Ln 1-3). Time left: Calculating...", progress[1].Status())
	assert.Equal(t, "Processing Part 2/3 (Ln 4-6). Time left: 0:00:20", progress[2].Status())
	assert.Equal(t, "Processing Part 3/3 (Ln 7-7). Time left: 0:00:10", progress[3].Status())
	assert.Equal(t, StageSummarising, progress[4].Stage)
}

func TestAnalyze_SubSecondParts(t *testing.T) {
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("one")},
		llmtest.Reply{Deltas: llmtest.Text("two")},
		llmtest.Reply{Deltas: llmtest.Text("three")},
		llmtest.Reply{Deltas: llmtest.Text("sum")},
	)
	var progress []Progress
	a := newAnalyzerWithClock(b, &progress, &tickClock{step: 400 * time.Millisecond})

	_, err := a.Analyze(context.Background(), strings.NewReader(sevenLines), 20)
	require.NoError(t, err)

	require.Len(t, progress, 5)
	assert.Equal(t, 800*time.Millisecond, progress[2].Remaining)
	assert.Equal(t, "Processing Part 2/3 (Ln 4-6). Time left: 0:00:01", progress[2].Status())
	assert.Equal(t, 400*time.Millisecond, progress[3].Remaining)
}

func TestAnalyze_SummaryTooLong(t *testing.T) {
	long := strings.Repeat("word ", 10)
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text(long)},
		llmtest.Reply{Deltas: llmtest.Text(long)},
		llmtest.Reply{Deltas: llmtest.Text(long)},
	)
	a := newAnalyzer(b, nil)

	res, err := a.Analyze(context.Background(), strings.NewReader(sevenLines), 20)
	require.NoError(t, err)

	assert.Equal(t, 3, b.Calls())
	assert.False(t, res.Unified)
	assert.Equal(t, NoticeSummaryTooLong, res.Notice)
	assert.Equal(t, res.Analysis, res.Summary)
}

func TestAnalyze_SummaryContextExceeded(t *testing.T) {
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("one")},
		llmtest.Reply{Deltas: llmtest.Text("two")},
		llmtest.Reply{Deltas: llmtest.Text("three")},
		llmtest.Reply{OpenErr: llm.ErrContextExceeded},
	)
	a := newAnalyzer(b, nil)

	res, err := a.Analyze(context.Background(), strings.NewReader(sevenLines), 20)
	require.NoError(t, err)

	assert.False(t, res.Unified)
	assert.Equal(t, NoticeSummaryExceeded, res.Notice)
	assert.Equal(t, res.Analysis, res.Summary)
}

func TestAnalyze_PartFailure(t *testing.T) {
	boom := errors.New("backend down")
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("one")},
		llmtest.Reply{OpenErr: boom},
	)
	a := newAnalyzer(b, nil)

	res, err := a.Analyze(context.Background(), strings.NewReader(sevenLines), 20)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, stream.IsGenerationError(err))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "part 2 (Ln 4-6)")
}

func TestAnalyze_Cancel(t *testing.T) {
	gate := make(chan struct{})
	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("never"), Gate: gate})
	a := newAnalyzer(b, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Analyze(context.Background(), strings.NewReader(sevenLines), 20)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return b.Calls() == 1 }, time.Second, time.Millisecond)
	a.Cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("analysis did not stop after Cancel")
	}
	assert.Equal(t, 1, b.Calls())
}

func TestAnalyze_CancelBeforeStart(t *testing.T) {
	b := llmtest.New()
	a := newAnalyzer(b, nil)
	a.Cancel()

	_, err := a.Analyze(context.Background(), strings.NewReader(sevenLines), 20)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, b.Calls())
}

func TestAnalyzeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("short file\n"), 0o600))

	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("ok")})
	res, err := newAnalyzer(b, nil).AnalyzeFile(context.Background(), path, 20)
	require.NoError(t, err)
	assert.Equal(t, "[PART1]Ln 1-1:\nok", res.Summary)

	_, err = newAnalyzer(llmtest.New(), nil).AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), 20)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00:00"},
		{59 * time.Second, "0:00:59"},
		{61 * time.Second, "0:01:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{1500 * time.Millisecond, "0:00:02"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), tt.in.String())
	}
}
