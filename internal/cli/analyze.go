// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// analyze.go - One-shot file analysis.
//
// Command: analyze <file>
// Short:   Analyse a text file and print the summary
//
// Examples:
//   ctxchat analyze notes.txt
//   ctxchat analyze --parts --raw report.md > analysis.md

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/analysis"
	"github.com/jeranaias/ctxchat/internal/config"
	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/session"
	"github.com/jeranaias/ctxchat/internal/tokenizer"
)

// analyzeOptions holds the analyze command flags.
type analyzeOptions struct {
	raw   bool
	parts bool
}

func (a *app) newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyse a text file and print the summary",
		Long: "Splits the file into parts that fit the context window, analyses each part\n" +
			"and merges the results into one summary when they fit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			backend, err := newBackend(a.cfg, a.logger)
			if err != nil {
				return err
			}
			if err := checkBackend(ctx, backend); err != nil {
				return err
			}
			return runAnalyze(ctx, analyzeRun{
				cfg:     a.cfg,
				backend: backend,
				counter: newCounter(a.cfg, a.logger),
				logger:  a.logger,
				path:    args[0],
				opts:    opts,
				stdout:  cmd.OutOrStdout(),
				stderr:  cmd.ErrOrStderr(),
				tty:     IsStdoutTTY(),
			})
		},
	}
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print markdown source instead of rendering it")
	cmd.Flags().BoolVar(&opts.parts, "parts", false, "also print the analysis of every part")
	return cmd
}

type analyzeRun struct {
	cfg     *config.Config
	backend llm.Backend
	counter tokenizer.Counter
	logger  *zap.Logger
	path    string
	opts    analyzeOptions
	stdout  io.Writer
	stderr  io.Writer
	tty     bool
}

func runAnalyze(ctx context.Context, r analyzeRun) error {
	if _, err := os.Stat(r.path); err != nil {
		return err
	}
	s := r.cfg.Snapshot()
	progress := newPrinter(r.stderr, printerOptions{TTY: IsStderrTTY()})
	progress.Notice(session.FileSizeNotice(s.ContextSize, s.Budget().IdealFileSizeKB()))

	an := analysis.New(analysis.Options{
		Backend: r.backend,
		Counter: r.counter,
		Logger:  r.logger,
		Params:  s.Params,
		OnProgress: func(p analysis.Progress) {
			progress.Status(p.Status())
		},
	})
	res, err := an.AnalyzeFile(ctx, r.path, s.ContextSize)
	progress.ClearStatus()
	if err != nil {
		if errors.Is(err, analysis.ErrCancelled) || ctx.Err() != nil {
			progress.Notice(session.NoticeAnalysisCancelled)
			return errInterrupted
		}
		return fmt.Errorf("analyse %s: %w", r.path, err)
	}

	var b strings.Builder
	if r.opts.parts && res.Unified {
		b.WriteString(res.Analysis)
		b.WriteString("\n\n")
	}
	b.WriteString(res.Summary)
	text := b.String()

	if r.tty && !r.opts.raw {
		if render := newMarkdownRenderer(GetTerminalWidth()); render != nil {
			text = render(text)
		}
	}
	fmt.Fprintln(r.stdout, strings.TrimRight(text, "\n"))
	if res.Notice != "" {
		progress.Notice(res.Notice)
	}
	return nil
}
