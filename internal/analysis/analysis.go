// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/chunker"
	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/model"
	"github.com/jeranaias/ctxchat/internal/stream"
	"github.com/jeranaias/ctxchat/internal/tokenizer"
)

// ErrCancelled is returned when Cancel stops an analysis. Nothing from a
// cancelled analysis should be kept.
var ErrCancelled = errors.New("analysis cancelled")

// =============================================================================
// TYPES
// =============================================================================

// Stage identifies what the analyzer is doing.
type Stage int

const (
	StageReading Stage = iota
	StageAnalysing
	StageSummarising
)

// Progress reports the analysis position.
type Progress struct {
	Stage     Stage
	Part      int // 1-based part being analysed
	Total     int
	Label     string
	Remaining time.Duration
	// Estimating is set until the first part has completed.
	Estimating bool
}

// Status renders the progress as a one-line status text.
func (p Progress) Status() string {
	switch p.Stage {
	case StageReading:
		return "Reading file"
	case StageSummarising:
		return "Summarising analysis"
	}
	left := "Calculating..."
	if !p.Estimating {
		left = FormatDuration(p.Remaining)
	}
	return fmt.Sprintf("Processing Part %d/%d (%s). Time left: %s", p.Part, p.Total, p.Label, left)
}

// FormatDuration renders d as H:MM:SS.
func FormatDuration(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

// Part is the analysis of one chunk.
type Part struct {
	Index    int
	Label    string
	Analysis string
	Elapsed  time.Duration
}

// Result is the outcome of a completed analysis.
type Result struct {
	Parts []Part
	// Analysis is the concatenation of every part under its header.
	Analysis string
	// Summary is the unified summary, or Analysis when none was produced.
	Summary string
	// Unified is set when Summary came from a dedicated summary request.
	Unified bool
	// Notice explains why no unified summary is available.
	Notice string
}

// Options configures an Analyzer.
type Options struct {
	Backend llm.Backend
	Counter tokenizer.Counter
	Logger  *zap.Logger
	// Params are the base sampling parameters; temperature and max tokens
	// are overridden per request.
	Params llm.Params
	// OnProgress is called before each stage and part.
	OnProgress func(Progress)
	// Now overrides the clock for tests.
	Now func() time.Time
}

// =============================================================================
// ANALYZER
// =============================================================================

// Analyzer runs one analysis at a time. Cancel may be called from any
// goroutine.
type Analyzer struct {
	opts      Options
	logger    *zap.Logger
	cancelled atomic.Bool

	mu      sync.Mutex
	current *stream.Session
}

// New creates an Analyzer.
func New(opts Options) *Analyzer {
	if opts.Counter == nil {
		opts.Counter = tokenizer.Estimator{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Params.Stop == nil {
		opts.Params = llm.DefaultParams()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{opts: opts, logger: opts.Logger.Named("analysis")}
}

// Cancel aborts the running analysis at the next delta or chunk boundary.
// Cancelling the context passed to Analyze has the same effect.
func (a *Analyzer) Cancel() {
	a.cancelled.Store(true)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		a.current.Cancel()
	}
}

// AnalyzeFile opens path and analyses its contents.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string, contextSize int) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return a.Analyze(ctx, f, contextSize)
}

// Analyze chunks r and analyses every chunk, then summarises the parts.
func (a *Analyzer) Analyze(ctx context.Context, r io.Reader, contextSize int) (*Result, error) {
	a.progress(Progress{Stage: StageReading})

	chunks, err := a.readChunks(ctx, r, contextSize)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("file chunked", zap.Int("chunks", len(chunks)))

	res := &Result{}
	var analysis strings.Builder
	var total time.Duration

	for i, chunk := range chunks {
		if a.stopped(ctx) {
			return nil, ErrCancelled
		}

		part := i + 1
		p := Progress{Stage: StageAnalysing, Part: part, Total: len(chunks), Label: chunk.Label(), Estimating: i == 0}
		if i > 0 {
			p.Remaining = total / time.Duration(i) * time.Duration(len(chunks)-i)
		}
		a.progress(p)

		start := a.opts.Now()
		replyTokens := contextSize - a.opts.Counter.Count(chunk.Text)
		text, err := a.generate(ctx, []model.Message{
			model.NewSystemMessage(systemPrompt(replyTokens)),
			model.NewUserMessage(partPrompt(part, chunk.Text)),
		}, replyTokens)
		if errors.Is(err, ErrCancelled) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("analyse part %d (%s): %w", part, chunk.Label(), err)
		}
		elapsed := a.opts.Now().Sub(start)
		total += elapsed

		analysis.WriteString(partHeader(part, chunk.Label()))
		analysis.WriteString(text)
		res.Parts = append(res.Parts, Part{Index: part, Label: chunk.Label(), Analysis: text, Elapsed: elapsed})
	}

	res.Analysis = strings.TrimSpace(analysis.String())
	res.Summary = res.Analysis

	if len(chunks) < 2 {
		return res, nil
	}

	used := a.opts.Counter.Count(res.Analysis)
	if used >= contextSize {
		res.Notice = NoticeSummaryTooLong
		a.logger.Warn("analysis too long for unified summary", zap.Int("tokens", used))
		return res, nil
	}

	if a.stopped(ctx) {
		return nil, ErrCancelled
	}
	a.progress(Progress{Stage: StageSummarising, Total: len(chunks)})

	replyTokens := contextSize - used
	summary, err := a.generate(ctx, []model.Message{
		model.NewSystemMessage(systemPrompt(replyTokens)),
		model.NewUserMessage(summaryPrompt(res.Analysis)),
	}, replyTokens)
	switch {
	case errors.Is(err, ErrCancelled):
		return nil, err
	case llm.IsContextExceeded(err):
		res.Notice = NoticeSummaryExceeded
		return res, nil
	case err != nil:
		return nil, fmt.Errorf("summarise analysis: %w", err)
	}

	res.Summary = summary
	res.Unified = true
	return res, nil
}

func (a *Analyzer) readChunks(ctx context.Context, r io.Reader, contextSize int) ([]chunker.Chunk, error) {
	c := chunker.New(r, a.opts.Counter, contextSize)
	var chunks []chunker.Chunk
	for {
		if a.stopped(ctx) {
			return nil, ErrCancelled
		}
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		chunks = append(chunks, chunk)
	}
}

// generate runs one request to completion. Cancellation is reported as
// ErrCancelled.
func (a *Analyzer) generate(ctx context.Context, msgs []model.Message, maxTokens int) (string, error) {
	s := stream.NewSession(a.opts.Backend, a.opts.Logger)

	a.mu.Lock()
	if a.cancelled.Load() {
		a.mu.Unlock()
		return "", ErrCancelled
	}
	a.current = s
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
	}()

	params := a.opts.Params.WithMaxTokens(maxTokens).WithTemperature(llm.SummaryTemperature)
	res, err := s.Run(ctx, llm.Request{Messages: msgs, Params: params}, nil)
	if err != nil {
		return "", err
	}
	if res.Cancelled {
		return "", ErrCancelled
	}
	return res.Text, nil
}

func (a *Analyzer) stopped(ctx context.Context) bool {
	return a.cancelled.Load() || ctx.Err() != nil
}

func (a *Analyzer) progress(p Progress) {
	if a.opts.OnProgress != nil {
		a.opts.OnProgress(p)
	}
}
