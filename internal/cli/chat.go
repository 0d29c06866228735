// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Command: chat (also the default when no subcommand is given)
//
// Interactive Commands (during chat):
//   /r                  Reset the conversation memory
//   /clear              Clear the transcript and the screen
//   /f <path>           Analyse a text file
//   /export [path]      Save the transcript (.txt, .md or .json)
//   /status             Show session settings and memory use
//   /help               Show available commands
//   /quit               Exit chat
//   Ctrl+C              Stop the current reply, or exit at the prompt
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/ctxchat/internal/config"
	"github.com/jeranaias/ctxchat/internal/export"
	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/session"
	"github.com/jeranaias/ctxchat/internal/tokenizer"
	"github.com/jeranaias/ctxchat/internal/util"
)

// shutdownGrace is how long SIGTERM waits for the REPL to unwind before the
// process exits.
const shutdownGrace = 3 * time.Second

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads prompted lines. *liner.State implements it.
type lineReader interface {
	Prompt(prompt string) (string, error)
	PromptWithSuggestion(prompt, text string, pos int) (string, error)
	AppendHistory(item string)
	Close() error
}

// historyLiner is a liner.State that persists its history in the config
// directory.
type historyLiner struct {
	*liner.State
	path string
}

func newHistoryLiner() *historyLiner {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	h := &historyLiner{State: line, path: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(h.path); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return h
}

// Close saves the history (0600) and restores the terminal.
func (h *historyLiner) Close() error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err == nil {
		if f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = h.State.WriteHistory(f)
			f.Close()
		}
	}
	return h.State.Close()
}

// =============================================================================
// REPL
// =============================================================================

// chatOptions holds the collaborators of a chatREPL.
type chatOptions struct {
	Store   *config.Store
	Backend llm.Backend
	Counter tokenizer.Counter
	Logger  *zap.Logger
	Input   lineReader
	Out     *printer

	// Signals delivers SIGINT and SIGTERM. Nil disables signal handling.
	Signals <-chan os.Signal
	// Exit ends the process when SIGTERM cannot unwind in time.
	Exit func(int)
}

// chatREPL reads user lines and drives a session.Manager.
type chatREPL struct {
	opts   chatOptions
	mgr    *session.Manager
	rec    *export.Recorder
	out    *printer
	logger *zap.Logger

	mu       sync.Mutex
	deferred string
	notes    []string
}

func newChatREPL(opts chatOptions) *chatREPL {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	r := &chatREPL{
		opts:   opts,
		out:    opts.Out,
		logger: opts.Logger.Named("chat"),
		rec:    export.NewRecorder(metaOf(opts.Store.Get())),
	}
	r.mgr = session.NewManager(session.Config{
		Backend:  opts.Backend,
		Counter:  opts.Counter,
		Logger:   opts.Logger,
		Settings: opts.Store.Snapshot,
		Listener: r.onEvent,
	})
	return r
}

func metaOf(cfg *config.Config) export.Meta {
	return export.Meta{
		Model:       cfg.Backend.Model,
		ContextSize: cfg.AI.ContextSize,
		Strategy:    cfg.AI.ContextMgmt,
	}
}

// onEvent records every event and renders it.
func (r *chatREPL) onEvent(e session.Event) {
	r.rec.Record(e)

	switch e.Kind {
	case session.EventStatus:
		if e.Status == session.StatusIdle {
			r.out.ClearStatus()
		} else {
			r.out.Status(e.StatusText)
		}
	case session.EventProgress:
		r.out.Status(e.StatusText)
	case session.EventUser:
		// Typed input is already on screen.
		if strings.HasPrefix(e.Text, session.AnalysisRequest("")) {
			r.out.User(e.Text)
		}
	case session.EventDelta:
		r.out.Delta(e.Text)
	case session.EventReply:
		r.out.EndReply(e.Text, e.Cancelled)
	case session.EventNotice:
		r.out.Notice(e.Text)
	case session.EventAnalysis:
		r.out.Analysis(e.Text)
	case session.EventDeferred:
		r.setDeferred(e.Text)
	case session.EventTurnDone:
		r.out.ClearStatus()
		if e.Err != nil {
			r.logger.Debug("turn ended with error", zap.String("turn", e.TurnID), zap.Error(e.Err))
		}
	}
}

func (r *chatREPL) setDeferred(text string) {
	r.mu.Lock()
	r.deferred = text
	r.mu.Unlock()
}

func (r *chatREPL) takeDeferred() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := r.deferred
	r.deferred = ""
	return text
}

// note queues a message for display before the next prompt.
func (r *chatREPL) note(text string) {
	r.mu.Lock()
	r.notes = append(r.notes, text)
	r.mu.Unlock()
}

func (r *chatREPL) flushNotes() {
	r.mu.Lock()
	notes := r.notes
	r.notes = nil
	r.mu.Unlock()
	for _, n := range notes {
		r.out.Notice(n)
	}
}

// run opens the session and reads input until the user quits, the input
// ends or ctx is cancelled.
func (r *chatREPL) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.mgr.Open(ctx); err != nil {
		return err
	}
	defer r.mgr.Close()

	var (
		terminated bool
		deadline   *time.Timer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return r.loop(gctx)
	})
	g.Go(func() error {
		if r.opts.Signals == nil {
			return nil
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-r.opts.Signals:
				if sig != syscall.SIGTERM {
					r.logger.Debug("interrupt, stopping turn")
					r.mgr.Cancel()
					continue
				}
				r.logger.Info("terminated, shutting down")
				terminated = true
				cancel()
				deadline = time.AfterFunc(shutdownGrace, func() { r.opts.Exit(ExitInterrupted) })
				return nil
			}
		}
	})
	err := g.Wait()
	if deadline != nil {
		deadline.Stop()
	}
	if terminated {
		return errInterrupted
	}
	return err
}

func (r *chatREPL) loop(ctx context.Context) error {
	for {
		r.flushNotes()
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				r.out.Info("")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		quit, err := r.dispatch(ctx, line)
		if err != nil {
			r.out.Error(err)
		}
		if quit {
			return nil
		}
	}
}

// readLine prompts, prefilled with an unanswered message when there is one.
func (r *chatREPL) readLine() (string, error) {
	prompt := "You: "
	var (
		line string
		err  error
	)
	if pending := r.takeDeferred(); pending != "" {
		line, err = r.opts.Input.PromptWithSuggestion(prompt, pending, -1)
	} else {
		line, err = r.opts.Input.Prompt(prompt)
	}
	if err == nil && strings.TrimSpace(line) != "" {
		r.opts.Input.AppendHistory(line)
	}
	return line, err
}

// dispatch handles one input line. It blocks until any turn it started has
// finished.
func (r *chatREPL) dispatch(ctx context.Context, line string) (quit bool, err error) {
	text := util.NormalizeInput(line)
	if text == "" {
		return false, nil
	}
	if strings.HasPrefix(text, "/") {
		return r.command(ctx, text)
	}
	if strings.EqualFold(text, "exit") || strings.EqualFold(text, "quit") {
		return true, nil
	}

	switch err := r.mgr.Submit(text); {
	case err == nil:
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrEmptyInput):
		// The busy notice has already been shown.
		return false, nil
	case errors.Is(err, session.ErrInputTooLong):
		r.setDeferred(text)
		return false, err
	default:
		return false, err
	}
	return false, r.wait(ctx)
}

func (r *chatREPL) wait(ctx context.Context) error {
	if err := r.mgr.Wait(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (r *chatREPL) command(ctx context.Context, text string) (bool, error) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/r", "/reset":
		r.mgr.Reset()

	case "/clear", "/c":
		r.rec.Clear()
		r.out.ClearScreen()

	case "/f", "/file":
		path := strings.Trim(arg, `"'`)
		if path == "" {
			return false, &UsageError{Message: "usage: /f <path>"}
		}
		switch err := r.mgr.AnalyzeFile(path); {
		case err == nil:
			return false, r.wait(ctx)
		case errors.Is(err, session.ErrBusy):
			return false, nil
		default:
			return false, err
		}

	case "/export", "/save":
		written, err := export.ToFile(r.rec.Snapshot(), arg, export.DefaultOptions())
		if err != nil {
			return false, &CommandError{Command: "/export", Action: "write", Err: err}
		}
		r.out.Info(SuccessStyle.Render("Transcript saved to " + written))

	case "/status", "/s":
		r.out.Info(r.statusReport())

	case "/help", "/h", "/?":
		r.out.Info(chatHelp())

	default:
		return false, &UsageError{Message: fmt.Sprintf("unknown command %s (try /help)", name)}
	}
	return false, nil
}

func (r *chatREPL) statusReport() string {
	cfg := r.opts.Store.Get()
	s := cfg.Snapshot()
	history := "on"
	if !s.HistoryEnabled {
		history = "off"
	}
	rows := [][2]string{
		{"Backend", r.opts.Backend.Name()},
		{"Model", cfg.Backend.Model},
		{"Context size", fmt.Sprintf("%d tokens", s.ContextSize)},
		{"Context mgmt", string(s.Strategy)},
		{"History", history},
		{"Memory", fmt.Sprintf("%d / %d tokens (%d messages)", r.mgr.Usage(), s.ContextSize, len(r.mgr.History()))},
		{"Status", r.mgr.StatusText()},
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session") + "\n")
	b.WriteString(RenderSeparator() + "\n")
	for _, row := range rows {
		b.WriteString(RenderLabel(row[0]) + ValueStyle.Render(row[1]) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func chatHelp() string {
	cmds := [][2]string{
		{"/r", "Reset the conversation memory"},
		{"/clear", "Clear the transcript and the screen"},
		{"/f <path>", "Analyse a text file"},
		{"/export [path]", "Save the transcript (.txt, .md, .json)"},
		{"/status", "Show settings and memory use"},
		{"/help", "Show this help"},
		{"/quit", "Exit (also Ctrl+D)"},
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Commands") + "\n")
	for _, c := range cmds {
		b.WriteString("  " + commandStyle.Render(util.PadWidth(c[0], 16)) + DimStyle.Render(c[1]) + "\n")
	}
	b.WriteString(DimStyle.Render("  Ctrl+C stops a reply in progress."))
	return b.String()
}

func (r *chatREPL) welcome() {
	cfg := r.opts.Store.Get()
	r.out.Info(TitleStyle.Render("ctxchat "+Version) + DimStyle.Render(fmt.Sprintf(
		"  %s via %s, %d token context, %s", cfg.Backend.Model, r.opts.Backend.Name(),
		cfg.AI.ContextSize, cfg.AI.ContextMgmt)))
	r.out.Info(DimStyle.Render("Type /help for commands, Ctrl+D to exit.") + "\n")
}

// =============================================================================
// COMMAND
// =============================================================================

func (a *app) newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context())
		},
	}
}

// runChat wires the config store, backend and terminal into a REPL.
func (a *app) runChat(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store := config.NewStore(a.cfg)

	backend, err := newSwappableBackend(a.cfg, a.logger)
	if err != nil {
		return err
	}
	if err := checkBackend(ctx, backend.Current()); err != nil {
		return err
	}

	tty := IsStdoutTTY()
	out := newPrinter(a.stdout, printerOptions{TTY: tty, Markdown: newMarkdownRenderer(GetTerminalWidth())})

	input := newHistoryLiner()
	defer input.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	r := newChatREPL(chatOptions{
		Store:   store,
		Backend: backend,
		Counter: newCounter(a.cfg, a.logger),
		Logger:  a.logger,
		Input:   input,
		Out:     out,
		Signals: sigs,
	})

	if a.cfgPath != "" {
		w, err := a.watchConfig(store, backend, r)
		if err != nil {
			a.logger.Warn("config watching disabled", zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	r.welcome()
	return r.run(ctx)
}

// watchConfig reloads the config file into store while chatting. Flags given
// on the command line keep overriding the file.
func (a *app) watchConfig(store *config.Store, backend *swappableBackend, r *chatREPL) (*config.Watcher, error) {
	w, err := config.NewWatcher(store, a.cfgPath, config.WatchOptions{
		Logger: a.logger,
		OnReload: func(_ *config.Config, err error) {
			if err != nil {
				r.note("Config reload failed, keeping the previous settings: " + err.Error())
				return
			}
			if a.overrides != nil {
				if err := store.Update(func(c *config.Config) error {
					a.overrides(c)
					return nil
				}); err != nil {
					r.note("Config reload failed: " + err.Error())
					return
				}
			}
			cfg := store.Get()
			if _, err := backend.Update(cfg); err != nil {
				r.note("Config reloaded, but the backend could not be rebuilt: " + err.Error())
				return
			}
			r.rec.SetMeta(metaOf(cfg))
			r.note(fmt.Sprintf("Config reloaded (%d token context, %s).", cfg.AI.ContextSize, cfg.AI.ContextMgmt))
		},
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}
