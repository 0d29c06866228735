// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package window

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/model"
	"github.com/jeranaias/ctxchat/internal/tokenizer"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBudgetRejected means the user input cannot fit the budget even with
	// no history at all. No request is made.
	ErrBudgetRejected = errors.New("input does not fit the context budget")

	// ErrCompressionFailed means the compression turn produced a blank or
	// too-short summary. History is left as it was.
	ErrCompressionFailed = errors.New("context compression failed")
)

// =============================================================================
// SETTINGS & PLAN
// =============================================================================

// Settings is the per-turn configuration snapshot. Changes made while a turn
// runs apply from the next Plan call.
type Settings struct {
	ContextSize    int
	Strategy       Strategy
	HistoryEnabled bool
	SystemPrompt   string
	Params         llm.Params
}

// Budget returns the thresholds for these settings.
func (s Settings) Budget() Budget {
	return NewBudget(s.ContextSize)
}

func (s Settings) systemPrompt() string {
	if s.SystemPrompt == "" {
		return DefaultSystemPrompt
	}
	return s.SystemPrompt
}

// PlanKind distinguishes a normal reply from a compression turn.
type PlanKind int

const (
	PlanReply PlanKind = iota
	PlanCompress
)

// String returns a short name for the plan kind.
func (k PlanKind) String() string {
	if k == PlanCompress {
		return "compress"
	}
	return "reply"
}

// Plan describes one generation turn.
type Plan struct {
	Kind     PlanKind
	Request  llm.Request
	Settings Settings

	// User is the turn's input. Compression plans do not answer it; the
	// caller resubmits it once compression completes.
	User model.Message

	// Usage is the token count of the retained history when planned,
	// excluding the new input.
	Usage int

	// Evicted is how many messages the sliding window dropped.
	Evicted int
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the message history. It is not safe for concurrent use;
// callers serialise access.
type Manager struct {
	counter tokenizer.Counter
	logger  *zap.Logger
	history model.History
}

// NewManager creates a Manager with an empty history.
func NewManager(counter tokenizer.Counter, logger *zap.Logger) *Manager {
	if counter == nil {
		counter = tokenizer.Estimator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{counter: counter, logger: logger.Named("window")}
}

// History returns a copy of the retained messages, oldest first.
func (m *Manager) History() model.History {
	return m.history.Clone()
}

// Len returns the number of retained messages.
func (m *Manager) Len() int {
	return m.history.Len()
}

// Usage returns the token count of the joined history.
func (m *Manager) Usage() int {
	return m.counter.Count(m.history.Joined())
}

// Reset empties the history.
func (m *Manager) Reset() {
	m.history = nil
}

// Plan prepares the next turn for input. Under the sliding window strategy
// the evictions it performs are applied to the history immediately. It
// returns an error wrapping ErrBudgetRejected when input cannot fit.
func (m *Manager) Plan(s Settings, input string) (*Plan, error) {
	user := model.NewUserMessage(input)

	if !s.HistoryEnabled && m.history.Len() > 0 {
		// Nothing carries across turns in this mode.
		m.history = nil
	}

	switch s.Strategy {
	case PeriodicSummary:
		return m.planPeriodic(s, user)
	default:
		return m.planSliding(s, user)
	}
}

func (m *Manager) planSliding(s Settings, user model.Message) (*Plan, error) {
	b := s.Budget()
	limit := b.SlidingLimit()

	candidate := m.history.Append(user)
	kept, evicted := Evict(candidate, m.counter, limit)
	if len(kept) == 1 && float64(m.counter.Count(kept.Joined())) >= limit {
		return nil, fmt.Errorf("%w: input needs %d tokens, limit is %.0f",
			ErrBudgetRejected, m.counter.Count(user.Content), limit)
	}

	if evicted > 0 {
		m.logger.Debug("evicted messages",
			zap.Int("count", evicted),
			zap.Int("remaining", len(kept)-1))
	}
	m.history = kept[:len(kept)-1].Clone()

	msgs := make([]model.Message, 0, len(kept)+1)
	msgs = append(msgs, model.NewSystemMessage(s.systemPrompt()))
	msgs = append(msgs, kept...)

	return &Plan{
		Kind:     PlanReply,
		Request:  llm.Request{Messages: msgs, Params: s.Params.WithMaxTokens(0)},
		Settings: s,
		User:     user,
		Usage:    m.Usage(),
		Evicted:  evicted,
	}, nil
}

func (m *Manager) planPeriodic(s Settings, user model.Message) (*Plan, error) {
	b := s.Budget()
	limit := b.SummaryLimit()

	if n := m.counter.Count(user.Content); n >= limit {
		return nil, fmt.Errorf("%w: input needs %d tokens, limit is %d", ErrBudgetRejected, n, limit)
	}

	usage := m.Usage()
	if usage < limit {
		msgs := make([]model.Message, 0, m.history.Len()+2)
		msgs = append(msgs, model.NewSystemMessage(s.systemPrompt()))
		msgs = append(msgs, m.history...)
		msgs = append(msgs, user)
		return &Plan{
			Kind:     PlanReply,
			Request:  llm.Request{Messages: msgs, Params: s.Params.WithMaxTokens(b.ReplyCap())},
			Settings: s,
			User:     user,
			Usage:    usage,
		}, nil
	}

	m.logger.Debug("compression turn",
		zap.Int("usage", usage),
		zap.Int("limit", limit))

	msgs := make([]model.Message, 0, m.history.Len()+2)
	msgs = append(msgs, model.NewSystemMessage(CompressionSystemPrompt))
	msgs = append(msgs, m.history...)
	msgs = append(msgs, model.NewUserMessage(CompressionRequest(b)))

	params := s.Params.WithMaxTokens(s.ContextSize - usage).WithTemperature(llm.SummaryTemperature)
	return &Plan{
		Kind:     PlanCompress,
		Request:  llm.Request{Messages: msgs, Params: params},
		Settings: s,
		User:     user,
		Usage:    usage,
	}, nil
}

// Evict drops messages from the front of h, one at a time, while the joined
// content is at or above limit tokens. The last message is never dropped.
// It returns the kept suffix and the number of evicted messages.
func Evict(h model.History, counter tokenizer.Counter, limit float64) (model.History, int) {
	evicted := 0
	for len(h) > 1 && float64(counter.Count(h.Joined())) >= limit {
		h = h[1:]
		evicted++
	}
	return h, evicted
}

// =============================================================================
// OUTCOMES
// =============================================================================

// CommitReply records a finished or cancelled reply. With history enabled the
// user message and the assistant text are appended; otherwise the history is
// emptied.
func (m *Manager) CommitReply(p *Plan, reply string) {
	if !p.Settings.HistoryEnabled {
		m.history = nil
		return
	}
	m.history = m.history.Append(p.User, model.NewAssistantMessage(reply))
}

// CommitExchange appends a user/assistant pair produced outside a planned
// reply, such as a file analysis.
func (m *Manager) CommitExchange(s Settings, user, reply string) {
	if !s.HistoryEnabled {
		m.history = nil
		return
	}
	m.history = m.history.Append(model.NewUserMessage(user), model.NewAssistantMessage(reply))
}

// ValidSummary reports whether a compression summary is usable.
func (m *Manager) ValidSummary(summary string) bool {
	msg := model.NewAssistantMessage(summary)
	return !msg.IsBlank() && m.counter.Count(summary) >= minSummaryTokens
}

// ApplySummary replaces the history with the summary produced by a
// compression plan. An unusable summary leaves the history untouched and
// returns ErrCompressionFailed.
func (m *Manager) ApplySummary(p *Plan, summary string) error {
	if p.Kind != PlanCompress {
		return fmt.Errorf("apply summary: plan is %s, not compress", p.Kind)
	}
	if !m.ValidSummary(summary) {
		m.logger.Warn("compression produced unusable summary",
			zap.Int("tokens", m.counter.Count(summary)))
		return ErrCompressionFailed
	}

	before := m.history.Len()
	if p.Settings.HistoryEnabled {
		m.history = model.History{model.NewAssistantMessage(summary)}
	} else {
		m.history = nil
	}
	m.logger.Debug("history compressed",
		zap.Int("messages_before", before),
		zap.Int("summary_tokens", m.counter.Count(summary)))
	return nil
}

// Wipe clears the history after the backend ran out of context.
func (m *Manager) Wipe() {
	m.logger.Warn("context exceeded, wiping history", zap.Int("messages", m.history.Len()))
	m.history = nil
}
