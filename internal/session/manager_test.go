// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

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
	"go.uber.org/goleak"

	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/llm/llmtest"
	"github.com/jeranaias/ctxchat/internal/model"
	"github.com/jeranaias/ctxchat/internal/tokenizer"
	"github.com/jeranaias/ctxchat/internal/window"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// HELPERS
// =============================================================================

var (
	wordCounter = tokenizer.CounterFunc(func(s string) int { return len(strings.Fields(s)) })
	byteCounter = tokenizer.CounterFunc(func(s string) int { return len(s) })
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) statuses() []Status {
	var out []Status
	for _, e := range r.all(EventStatus) {
		out = append(out, e.Status)
	}
	return out
}

func (r *recorder) notices() []string {
	var out []string
	for _, e := range r.all(EventNotice) {
		out = append(out, e.Text)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) lastTurn(t *testing.T) Event {
	t.Helper()
	done := r.all(EventTurnDone)
	require.NotEmpty(t, done, "no turn finished")
	return done[len(done)-1]
}

func settings(contextSize int, strategy window.Strategy, history bool) func() window.Settings {
	return func() window.Settings {
		s := DefaultSettings()
		s.ContextSize = contextSize
		s.Strategy = strategy
		s.HistoryEnabled = history
		return s
	}
}

func newTestManager(t *testing.T, b llm.Backend, counter tokenizer.Counter, s func() window.Settings) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := NewManager(Config{
		Backend:  b,
		Counter:  counter,
		Settings: s,
		Listener: rec.listen,
	})
	require.NoError(t, m.Open(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return m, rec
}

func wait(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func submit(t *testing.T, m *Manager, input string) {
	t.Helper()
	require.NoError(t, m.Submit(input))
	wait(t, m)
}

// =============================================================================
// STATUS TABLE
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusThinking, true},
		{StatusIdle, StatusReadingFile, true},
		{StatusIdle, StatusReplying, false},
		{StatusIdle, StatusCompressing, false},
		{StatusThinking, StatusReplying, true},
		{StatusThinking, StatusCompressing, true},
		{StatusThinking, StatusIdle, true},
		{StatusReplying, StatusIdle, true},
		{StatusReplying, StatusThinking, false},
		{StatusCompressing, StatusIdle, true},
		{StatusCompressing, StatusReplying, false},
		{StatusReadingFile, StatusIdle, true},
		{StatusReadingFile, StatusThinking, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Blocking(t *testing.T) {
	assert.False(t, StatusIdle.Blocking())
	assert.True(t, StatusThinking.Blocking())
	assert.False(t, StatusReplying.Blocking())
	assert.True(t, StatusCompressing.Blocking())
	assert.True(t, StatusReadingFile.Blocking())
	assert.Equal(t, "Compressing memory", StatusCompressing.String())
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(Config{Backend: llmtest.New()})

	assert.ErrorIs(t, m.Submit("hello"), ErrClosed)

	require.NoError(t, m.Open(context.Background()))
	assert.Error(t, m.Open(context.Background()), "second Open")

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Submit("hello"), ErrClosed)
	assert.ErrorIs(t, m.Open(context.Background()), ErrClosed)
}

func TestManager_CloseCancelsTurn(t *testing.T) {
	gate := make(chan struct{})
	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("never"), Gate: gate})
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	require.NoError(t, m.Submit("hello"))
	require.NoError(t, m.Close())

	assert.Equal(t, StatusIdle, m.Status())
	assert.True(t, rec.lastTurn(t).Cancelled)
}

// =============================================================================
// CHAT TURNS
// =============================================================================

func TestManager_SubmitReply(t *testing.T) {
	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("Hi ", "there")})
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	submit(t, m, "hello")

	assert.Equal(t, []Status{StatusThinking, StatusReplying, StatusIdle}, rec.statuses())
	assert.Equal(t, model.History{
		model.NewUserMessage("hello"),
		model.NewAssistantMessage("Hi there"),
	}, m.History())

	deltas := rec.all(EventDelta)
	require.Len(t, deltas, 2)
	assert.Equal(t, "Hi ", deltas[0].Text)

	replies := rec.all(EventReply)
	require.Len(t, replies, 1)
	assert.Equal(t, "Hi there", replies[0].Text)
	assert.False(t, replies[0].Cancelled)

	users := rec.all(EventUser)
	require.Len(t, users, 1)
	assert.Equal(t, users[0].TurnID, replies[0].TurnID)
	assert.NoError(t, rec.lastTurn(t).Err)

	req := b.Requests()[0]
	assert.Equal(t, model.NewSystemMessage(window.DefaultSystemPrompt), req.Messages[0])
	assert.Equal(t, 0, req.Params.MaxTokens)
}

func TestManager_HistoryDisabled(t *testing.T) {
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("first")},
		llmtest.Reply{Deltas: llmtest.Text("second")},
	)
	m, _ := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, false))

	submit(t, m, "one")
	assert.Empty(t, m.History())

	submit(t, m, "two")
	assert.Empty(t, m.History())
	// Nothing from the first turn reaches the second request.
	assert.Len(t, b.Requests()[1].Messages, 2)
}

func TestManager_InputRejections(t *testing.T) {
	b := llmtest.New()
	m, _ := newTestManager(t, b, nil, settings(100, window.SlidingWindow, true))

	assert.ErrorIs(t, m.Submit("   \n"), ErrEmptyInput)
	// 100 tokens allow 80 characters of input.
	assert.ErrorIs(t, m.Submit(strings.Repeat("x", 81)), ErrInputTooLong)
	assert.Zero(t, b.Calls())
	assert.Equal(t, StatusIdle, m.Status())
}

func TestManager_BudgetRejected(t *testing.T) {
	b := llmtest.New()
	m, rec := newTestManager(t, b, byteCounter, settings(100, window.SlidingWindow, true))

	submit(t, m, strings.Repeat("x", 75))

	assert.Zero(t, b.Calls())
	assert.Equal(t, StatusIdle, m.Status())
	assert.Empty(t, rec.statuses(), "a rejected turn never leaves Idle")
	assert.True(t, IsTurnError(rec.lastTurn(t).Err, KindBudgetRejected))
	deferred := rec.all(EventDeferred)
	require.Len(t, deferred, 1)
	assert.Equal(t, strings.Repeat("x", 75), deferred[0].Text)
	assert.ErrorIs(t, rec.lastTurn(t).Err, window.ErrBudgetRejected)
	assert.Contains(t, rec.notices(), NoticeBudgetRejected)
}

func TestManager_BusyWhileThinking(t *testing.T) {
	gate := make(chan struct{})
	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("late"), Gate: gate})
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	require.NoError(t, m.Submit("first"))
	assert.Equal(t, StatusThinking, m.Status())

	err := m.Submit("second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, m.AnalyzeFile("notes.txt"), ErrBusy)
	assert.Contains(t, rec.notices(), BusyNotice(StatusThinking))

	require.Eventually(t, func() bool { return b.Calls() == 1 }, 2*time.Second, time.Millisecond)
	m.Cancel()
	wait(t, m)

	assert.Equal(t, StatusIdle, m.Status())
	assert.True(t, rec.lastTurn(t).Cancelled)
	assert.Equal(t, 1, b.Calls())
}

func TestManager_NewInputPreemptsReply(t *testing.T) {
	gate := make(chan struct{})
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("partial", " rest"), Gate: gate},
		llmtest.Reply{Deltas: llmtest.Text("ok")},
	)
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	require.NoError(t, m.Submit("first"))
	gate <- struct{}{}
	require.Eventually(t, func() bool { return m.Status() == StatusReplying }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StatusReplyingText, m.StatusText())

	submit(t, m, "second")

	assert.Equal(t, model.History{
		model.NewUserMessage("first"),
		model.NewAssistantMessage("partial"),
		model.NewUserMessage("second"),
		model.NewAssistantMessage("ok"),
	}, m.History())

	replies := rec.all(EventReply)
	require.Len(t, replies, 2)
	assert.True(t, replies[0].Cancelled)
	assert.False(t, replies[1].Cancelled)
}

func TestManager_CancelReplyHistoryDisabled(t *testing.T) {
	gate := make(chan struct{})
	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("partial", " rest"), Gate: gate})
	m, _ := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, false))

	require.NoError(t, m.Submit("first"))
	gate <- struct{}{}
	require.Eventually(t, func() bool { return m.Status() == StatusReplying }, 2*time.Second, time.Millisecond)

	m.Cancel()
	wait(t, m)
	assert.Empty(t, m.History())
}

func TestManager_ContextExceededWipesHistory(t *testing.T) {
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("hi")},
		llmtest.Reply{Deltas: []llm.Delta{{Content: "par"}}, Err: llm.ErrContextExceeded},
	)
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	submit(t, m, "hello")
	require.Equal(t, 2, m.History().Len())

	submit(t, m, "again")

	assert.Empty(t, m.History())
	assert.Equal(t, StatusIdle, m.Status())
	assert.True(t, IsTurnError(rec.lastTurn(t).Err, KindContextExceeded))
	assert.Contains(t, rec.notices(), NoticeContextExceeded)
}

func TestManager_GenerationErrorKeepsHistory(t *testing.T) {
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("hi")},
		llmtest.Reply{OpenErr: errors.New("connection refused")},
	)
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	submit(t, m, "hello")
	before := m.History()

	submit(t, m, "again")

	assert.Equal(t, before, m.History())
	assert.Equal(t, StatusIdle, m.Status())
	assert.True(t, IsTurnError(rec.lastTurn(t).Err, KindGenerationError))
}

// =============================================================================
// PERIODIC SUMMARY
// =============================================================================

// fillPeriodic runs two turns that leave 13 words of history, over the
// 10 token summary limit of a 20 token context.
func fillPeriodic(t *testing.T, m *Manager) {
	t.Helper()
	submit(t, m, "one two three")
	submit(t, m, "a b c")
	require.Equal(t, 13, m.Usage())
}

func TestManager_PeriodicCompression(t *testing.T) {
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("four five six seven eight")},
		llmtest.Reply{Deltas: llmtest.Text("d e")},
		llmtest.Reply{Deltas: llmtest.Text("summary of the chat so far")},
	)
	m, rec := newTestManager(t, b, wordCounter, settings(20, window.PeriodicSummary, true))
	fillPeriodic(t, m)

	// Replies under the limit are capped at a quarter of the context.
	assert.Equal(t, 5, b.Requests()[1].Params.MaxTokens)

	rec.reset()
	submit(t, m, "next")

	assert.Equal(t, model.History{model.NewAssistantMessage("summary of the chat so far")}, m.History())
	assert.Equal(t, []Status{StatusThinking, StatusCompressing, StatusIdle}, rec.statuses())
	assert.Equal(t, []string{NoticeCompressing, NoticeCompressionDone, NoticeResend}, rec.notices())

	deferred := rec.all(EventDeferred)
	require.Len(t, deferred, 1)
	assert.Equal(t, "next", deferred[0].Text)
	assert.Empty(t, rec.all(EventDelta), "compression output is not shown")

	req := b.Requests()[2]
	assert.Equal(t, 7, req.Params.MaxTokens)
	assert.Equal(t, llm.SummaryTemperature, req.Params.Temperature)
	assert.Equal(t, window.CompressionSystemPrompt, req.Messages[0].Content)
}

func TestManager_CompressionFailureKeepsHistory(t *testing.T) {
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("four five six seven eight")},
		llmtest.Reply{Deltas: llmtest.Text("d e")},
		llmtest.Reply{Deltas: llmtest.Text("ok")},
	)
	m, rec := newTestManager(t, b, wordCounter, settings(20, window.PeriodicSummary, true))
	fillPeriodic(t, m)
	before := m.History()

	submit(t, m, "next")

	assert.Equal(t, before, m.History())
	assert.True(t, IsTurnError(rec.lastTurn(t).Err, KindCompressionFailed))
	assert.ErrorIs(t, rec.lastTurn(t).Err, window.ErrCompressionFailed)
	assert.Contains(t, rec.notices(), NoticeCompressionFailed)
	assert.Equal(t, StatusIdle, m.Status())
}

func TestManager_CancelledCompressionKeepsHistory(t *testing.T) {
	gate := make(chan struct{})
	b := llmtest.New(
		llmtest.Reply{Deltas: llmtest.Text("four five six seven eight")},
		llmtest.Reply{Deltas: llmtest.Text("d e")},
		llmtest.Reply{Deltas: llmtest.Text("summary of the chat so far"), Gate: gate},
	)
	m, rec := newTestManager(t, b, wordCounter, settings(20, window.PeriodicSummary, true))
	fillPeriodic(t, m)
	before := m.History()
	rec.reset()

	require.NoError(t, m.Submit("next"))
	require.Eventually(t, func() bool { return b.Calls() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StatusCompressing, m.Status())

	assert.ErrorIs(t, m.Submit("blocked"), ErrBusy)

	m.Cancel()
	wait(t, m)

	assert.Equal(t, before, m.History())
	assert.Equal(t, StatusIdle, m.Status())
	assert.Equal(t, []Status{StatusThinking, StatusCompressing, StatusIdle}, rec.statuses())
	assert.Equal(t, []string{
		NoticeCompressing,
		BusyNotice(StatusCompressing),
		NoticeCompressionInterrupted,
	}, rec.notices())

	done := rec.lastTurn(t)
	assert.True(t, done.Cancelled)
	assert.NoError(t, done.Err)

	deferred := rec.all(EventDeferred)
	require.Len(t, deferred, 1)
	assert.Equal(t, "next", deferred[0].Text)
}

// =============================================================================
// FILE ANALYSIS
// =============================================================================

func TestManager_AnalyzeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("short file\n"), 0o600))

	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("fine")})
	m, rec := newTestManager(t, b, wordCounter, settings(2048, window.SlidingWindow, true))

	require.NoError(t, m.AnalyzeFile(path))
	wait(t, m)

	assert.Equal(t, []Status{StatusReadingFile, StatusIdle}, rec.statuses())
	assert.Equal(t, model.History{
		model.NewUserMessage(AnalysisRequest(path)),
		model.NewAssistantMessage("[PART1]Ln 1-1:\nfine"),
	}, m.History())

	results := rec.all(EventAnalysis)
	require.Len(t, results, 1)
	assert.Len(t, results[0].Analysis.Parts, 1)
	assert.NotEmpty(t, rec.all(EventProgress))
	assert.Contains(t, rec.notices(), FileSizeNotice(2048, 20))
}

func TestManager_AnalyzeMissingFile(t *testing.T) {
	b := llmtest.New()
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	require.NoError(t, m.AnalyzeFile(filepath.Join(t.TempDir(), "missing.txt")))
	wait(t, m)

	assert.True(t, IsTurnError(rec.lastTurn(t).Err, KindFileError))
	assert.ErrorIs(t, rec.lastTurn(t).Err, os.ErrNotExist)
	assert.Empty(t, m.History())
	assert.Equal(t, StatusIdle, m.Status())
}

func TestManager_CancelAnalysisCommitsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("short file\n"), 0o600))

	gate := make(chan struct{})
	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("never"), Gate: gate})
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	require.NoError(t, m.AnalyzeFile(path))
	require.Eventually(t, func() bool { return b.Calls() == 1 }, 2*time.Second, time.Millisecond)
	assert.True(t, strings.HasPrefix(m.StatusText(), "Processing Part 1/1"))

	m.Cancel()
	wait(t, m)

	assert.Empty(t, m.History())
	assert.Contains(t, rec.notices(), NoticeAnalysisCancelled)
	assert.True(t, rec.lastTurn(t).Cancelled)
}

// =============================================================================
// RESET
// =============================================================================

func TestManager_Reset(t *testing.T) {
	b := llmtest.New(llmtest.Reply{Deltas: llmtest.Text("hi")})
	m, rec := newTestManager(t, b, nil, settings(2048, window.SlidingWindow, true))

	submit(t, m, "hello")
	require.Equal(t, 2, m.History().Len())

	m.Reset()
	assert.Empty(t, m.History())
	assert.Contains(t, rec.notices(), NoticeMemoryReset)
}
