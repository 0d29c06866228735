// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/analysis"
	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/model"
	"github.com/jeranaias/ctxchat/internal/stream"
	"github.com/jeranaias/ctxchat/internal/tasks"
	"github.com/jeranaias/ctxchat/internal/tokenizer"
	"github.com/jeranaias/ctxchat/internal/window"
)

// StatusReplyingText is shown while a reply streams.
const StatusReplyingText = "Replying (press Ctrl-C to stop)"

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Config holds the collaborators of a Manager.
type Config struct {
	Backend llm.Backend
	Counter tokenizer.Counter
	Logger  *zap.Logger

	// Settings returns the configuration snapshot used for the next turn.
	Settings func() window.Settings

	// Listener receives events. Optional.
	Listener Listener
}

// Manager runs turns one at a time and owns the history.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	status   Status
	progress string
	window   *window.Manager
	open     bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc

	// submitMu serialises the operations that start or join a task.
	submitMu sync.Mutex
	slot     tasks.Slot
}

// NewManager creates a closed Manager. Call Open before submitting.
func NewManager(cfg Config) *Manager {
	if cfg.Counter == nil {
		cfg.Counter = tokenizer.Estimator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Settings == nil {
		cfg.Settings = DefaultSettings
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.Named("session"),
		window: window.NewManager(cfg.Counter, cfg.Logger),
	}
}

// DefaultSettings returns a 2048 token sliding window with history on.
func DefaultSettings() window.Settings {
	return window.Settings{
		ContextSize:    2048,
		Strategy:       window.SlidingWindow,
		HistoryEnabled: true,
		SystemPrompt:   window.DefaultSystemPrompt,
		Params:         llm.DefaultParams(),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Open starts the session. Turns are cancelled when ctx is done.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClosed
	case m.open:
		return errors.New("session already open")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.open = true
	m.logger.Debug("session opened", zap.String("backend", m.cfg.Backend.Name()))
	return nil
}

// Close cancels any running turn, waits for it and closes the session.
// It is safe to call more than once.
func (m *Manager) Close() error {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.open = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.slot.Close()
	m.logger.Debug("session closed")
	return nil
}

// =============================================================================
// STATE
// =============================================================================

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// StatusText returns the status line text.
func (m *Manager) StatusText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusTextLocked()
}

func (m *Manager) statusTextLocked() string {
	switch {
	case m.status == StatusReplying:
		return StatusReplyingText
	case m.status == StatusReadingFile && m.progress != "":
		return m.progress
	}
	return m.status.String()
}

// History returns a copy of the retained messages.
func (m *Manager) History() model.History {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window.History()
}

// Usage returns the token count of the retained history.
func (m *Manager) Usage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window.Usage()
}

// transition moves to a new status and reports it to the listener.
func (m *Manager) transition(id string, to Status) error {
	m.mu.Lock()
	from := m.status
	if !CanTransition(from, to) {
		m.mu.Unlock()
		err := &TransitionError{From: from, To: to}
		m.logger.Error("status transition rejected", zap.Error(err))
		return err
	}
	m.status = to
	if to != StatusReadingFile {
		m.progress = ""
	}
	text := m.statusTextLocked()
	m.mu.Unlock()

	m.emit(Event{Kind: EventStatus, TurnID: id, Status: to, StatusText: text})
	return nil
}

// claim readies the worker for a new turn. A running reply is cancelled and
// joined first.
func (m *Manager) claim(id string) error {
	m.mu.Lock()
	open, status := m.open, m.status
	m.mu.Unlock()

	if !open {
		return ErrClosed
	}
	if status.Blocking() {
		m.notice(id, BusyNotice(status))
		return fmt.Errorf("%w: %s phase", ErrBusy, status)
	}
	if status == StatusReplying || m.slot.Busy() {
		m.slot.Cancel()
		_ = m.slot.Wait(context.Background())
	}
	return nil
}

// acquire claims the worker and enters status to.
func (m *Manager) acquire(id string, to Status) error {
	if err := m.claim(id); err != nil {
		return err
	}
	return m.transition(id, to)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Submit starts a chat turn for input. Blank input returns ErrEmptyInput and
// over-long input ErrInputTooLong; neither is sent. While the assistant is
// thinking, compressing or reading a file Submit returns ErrBusy. A reply in
// progress is cancelled, its partial text kept or dropped per the history
// setting, and the new turn starts once it has finished.
func (m *Manager) Submit(input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}
	s := m.cfg.Settings()
	if n, limit := utf8.RuneCountInString(input), s.Budget().InputLimit(); n > limit {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrInputTooLong, n, limit)
	}

	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	id := uuid.NewString()
	if err := m.claim(id); err != nil {
		return err
	}

	// The budget is checked before the turn starts, so a rejected input
	// never leaves Idle.
	m.mu.Lock()
	plan, err := m.window.Plan(s, input)
	m.mu.Unlock()
	m.emit(Event{Kind: EventUser, TurnID: id, Text: input})
	if err != nil {
		m.logger.Info("turn rejected", zap.String("turn", id), zap.Error(err))
		m.notice(id, NoticeBudgetRejected)
		m.emit(Event{Kind: EventDeferred, TurnID: id, Text: input})
		m.emit(Event{Kind: EventTurnDone, TurnID: id,
			Err: &TurnError{Kind: KindBudgetRejected, Message: NoticeBudgetRejected, Cause: err}})
		return nil
	}

	if err := m.transition(id, StatusThinking); err != nil {
		return err
	}
	m.slot.Start(m.ctx, "chat turn", func(ctx context.Context) error {
		return m.runTurn(ctx, id, plan)
	})
	return nil
}

// AnalyzeFile starts a file analysis turn. It is refused with ErrBusy under
// the same rules as Submit.
func (m *Manager) AnalyzeFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyInput
	}
	s := m.cfg.Settings()

	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	id := uuid.NewString()
	if err := m.acquire(id, StatusReadingFile); err != nil {
		return err
	}
	m.emit(Event{Kind: EventUser, TurnID: id, Text: AnalysisRequest(path)})
	m.notice(id, FileSizeNotice(s.ContextSize, s.Budget().IdealFileSizeKB()))
	m.slot.Start(m.ctx, "file analysis", func(ctx context.Context) error {
		return m.runAnalysis(ctx, id, s, path)
	})
	return nil
}

// Cancel stops the running turn at its next delta or chunk boundary. It
// does not wait.
func (m *Manager) Cancel() {
	m.slot.Cancel()
}

// Reset cancels any running turn, waits for it and empties the history.
func (m *Manager) Reset() {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	m.slot.Cancel()
	_ = m.slot.Wait(context.Background())

	m.mu.Lock()
	m.window.Reset()
	m.mu.Unlock()
	m.notice("", NoticeMemoryReset)
}

// Wait blocks until the running turn, if any, has finished.
func (m *Manager) Wait(ctx context.Context) error {
	return m.slot.Wait(ctx)
}

// =============================================================================
// WORKER
// =============================================================================

func (m *Manager) runTurn(ctx context.Context, id string, plan *window.Plan) error {
	if ctx.Err() != nil {
		return m.finish(id, nil, true)
	}

	m.logger.Debug("turn planned",
		zap.String("turn", id),
		zap.Stringer("kind", plan.Kind),
		zap.Int("usage", plan.Usage),
		zap.Int("evicted", plan.Evicted))

	if plan.Kind == window.PlanCompress {
		return m.runCompression(ctx, id, plan)
	}
	return m.runReply(ctx, id, plan)
}

func (m *Manager) runReply(ctx context.Context, id string, plan *window.Plan) error {
	sess := stream.NewSession(m.cfg.Backend, m.cfg.Logger)
	replying := false
	res, err := sess.Run(ctx, plan.Request, func(delta string) {
		if !replying {
			replying = true
			_ = m.transition(id, StatusReplying)
		}
		m.emit(Event{Kind: EventDelta, TurnID: id, Text: delta})
	})

	if err != nil {
		return m.fail(id, m.generationFailure(err))
	}

	m.mu.Lock()
	m.window.CommitReply(plan, res.Text)
	m.mu.Unlock()

	m.logger.Debug("reply finished",
		zap.String("turn", id),
		zap.Int("deltas", res.Deltas),
		zap.Bool("cancelled", res.Cancelled),
		zap.Duration("elapsed", res.Elapsed))
	m.emit(Event{Kind: EventReply, TurnID: id, Text: res.Text, Cancelled: res.Cancelled})
	return m.finish(id, nil, res.Cancelled)
}

func (m *Manager) runCompression(ctx context.Context, id string, plan *window.Plan) error {
	if err := m.transition(id, StatusCompressing); err != nil {
		return err
	}
	m.notice(id, NoticeCompressing)

	sess := stream.NewSession(m.cfg.Backend, m.cfg.Logger)
	res, err := sess.Run(ctx, plan.Request, nil)

	var terr *TurnError
	switch {
	case err != nil:
		terr = m.generationFailure(err)
	case res.Cancelled:
		m.notice(id, NoticeCompressionInterrupted)
	default:
		m.mu.Lock()
		err = m.window.ApplySummary(plan, res.Text)
		m.mu.Unlock()
		if err != nil {
			terr = &TurnError{Kind: KindCompressionFailed, Message: NoticeCompressionFailed, Cause: err}
		} else {
			m.notice(id, NoticeCompressionDone)
		}
	}

	// The input that triggered compression is never answered by this turn.
	m.emit(Event{Kind: EventDeferred, TurnID: id, Text: plan.User.Content})
	if terr != nil {
		return m.fail(id, terr)
	}
	if !res.Cancelled {
		m.notice(id, NoticeResend)
	}
	return m.finish(id, nil, res.Cancelled)
}

func (m *Manager) runAnalysis(ctx context.Context, id string, s window.Settings, path string) error {
	if ctx.Err() != nil {
		return m.finish(id, nil, true)
	}

	a := analysis.New(analysis.Options{
		Backend: m.cfg.Backend,
		Counter: m.cfg.Counter,
		Logger:  m.cfg.Logger,
		Params:  s.Params,
		OnProgress: func(p analysis.Progress) {
			text := p.Status()
			m.mu.Lock()
			m.progress = text
			m.mu.Unlock()
			m.emit(Event{Kind: EventProgress, TurnID: id, Status: StatusReadingFile, StatusText: text, Progress: p})
		},
	})

	res, err := a.AnalyzeFile(ctx, path, s.ContextSize)
	switch {
	case errors.Is(err, analysis.ErrCancelled):
		m.notice(id, NoticeAnalysisCancelled)
		return m.finish(id, nil, true)
	case llm.IsContextExceeded(err), stream.IsGenerationError(err):
		return m.fail(id, m.analysisFailure(err))
	case err != nil:
		return m.fail(id, &TurnError{Kind: KindFileError, Message: "Could not read " + path, Cause: err})
	}

	m.mu.Lock()
	m.window.CommitExchange(s, AnalysisRequest(path), res.Summary)
	m.mu.Unlock()

	m.emit(Event{Kind: EventAnalysis, TurnID: id, Analysis: res, Text: res.Summary})
	if res.Notice != "" {
		m.notice(id, res.Notice)
	}
	return m.finish(id, nil, false)
}

// generationFailure classifies a chat or compression failure. Running out of
// context wipes the history.
func (m *Manager) generationFailure(err error) *TurnError {
	if llm.IsContextExceeded(err) {
		m.mu.Lock()
		m.window.Wipe()
		m.mu.Unlock()
		return &TurnError{Kind: KindContextExceeded, Message: NoticeContextExceeded, Cause: err}
	}
	return &TurnError{Kind: KindGenerationError, Message: NoticeGenerationFailed, Cause: err}
}

// analysisFailure classifies a file analysis failure. The conversation
// history was not part of the request, so it is kept.
func (m *Manager) analysisFailure(err error) *TurnError {
	if llm.IsContextExceeded(err) {
		return &TurnError{Kind: KindContextExceeded, Message: "The file analysis ran out of context memory.", Cause: err}
	}
	return &TurnError{Kind: KindGenerationError, Message: NoticeGenerationFailed, Cause: err}
}

func (m *Manager) fail(id string, terr *TurnError) error {
	m.logger.Warn("turn failed",
		zap.String("turn", id),
		zap.Stringer("kind", terr.Kind),
		zap.Error(terr.Cause))
	m.notice(id, terr.Message)
	_ = m.transition(id, StatusIdle)
	m.emit(Event{Kind: EventTurnDone, TurnID: id, Err: terr})
	return terr
}

func (m *Manager) finish(id string, err error, cancelled bool) error {
	_ = m.transition(id, StatusIdle)
	m.emit(Event{Kind: EventTurnDone, TurnID: id, Cancelled: cancelled, Err: err})
	return err
}

func (m *Manager) notice(id, text string) {
	m.emit(Event{Kind: EventNotice, TurnID: id, Text: text})
}

func (m *Manager) emit(e Event) {
	if m.cfg.Listener != nil {
		m.cfg.Listener(e)
	}
}
