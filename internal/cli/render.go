// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Transcript output for the chat REPL.
//
// Session events arrive on the worker goroutine; every write goes through
// printer, which owns the transient status line and batches reply deltas.

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/time/rate"

	"github.com/jeranaias/ctxchat/internal/util"
)

// renderFPS caps how often streamed text is written to the terminal.
const renderFPS = 30

// =============================================================================
// RENDER BUFFER
// =============================================================================

// renderBuffer batches reply deltas so a fast model does not cost one write
// per token. Not safe for concurrent use; printer serialises access.
type renderBuffer struct {
	limiter *rate.Limiter
	pending strings.Builder
}

func newRenderBuffer(fps int) *renderBuffer {
	if fps <= 0 {
		fps = renderFPS
	}
	return &renderBuffer{limiter: rate.NewLimiter(rate.Limit(fps), 1)}
}

// Write adds text and returns what should be written now, if anything.
func (b *renderBuffer) Write(text string) (string, bool) {
	b.pending.WriteString(text)
	if !b.limiter.Allow() {
		return "", false
	}
	return b.Flush()
}

// Flush returns everything buffered.
func (b *renderBuffer) Flush() (string, bool) {
	if b.pending.Len() == 0 {
		return "", false
	}
	s := b.pending.String()
	b.pending.Reset()
	return s, true
}

// =============================================================================
// MARKDOWN
// =============================================================================

// newMarkdownRenderer returns a function rendering markdown for the
// terminal, or nil when glamour cannot be initialised.
func newMarkdownRenderer(width int) func(string) string {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return nil
	}
	return func(content string) string {
		rendered, err := r.Render(content)
		if err != nil {
			return content
		}
		return rendered
	}
}

// =============================================================================
// PRINTER
// =============================================================================

// printer writes the chat transcript. All methods are safe for concurrent use.
type printer struct {
	mu       sync.Mutex
	w        io.Writer
	term     *termenv.Output
	tty      bool
	width    func() int
	markdown func(string) string
	buf      *renderBuffer

	statusShown bool
	replying    bool
}

// printerOptions configures newPrinter.
type printerOptions struct {
	// TTY enables the status line and markdown rendering.
	TTY bool
	// Width reports the terminal width (default GetTerminalWidth).
	Width func() int
	// Markdown renders analyses. Nil prints them verbatim.
	Markdown func(string) string
	FPS      int
}

func newPrinter(w io.Writer, opts printerOptions) *printer {
	if opts.Width == nil {
		opts.Width = GetTerminalWidth
	}
	profile := termenv.Ascii
	if opts.TTY {
		profile = GetColorProfile()
	}
	return &printer{
		w:        w,
		term:     termenv.NewOutput(w, termenv.WithProfile(profile)),
		tty:      opts.TTY,
		width:    opts.Width,
		markdown: opts.Markdown,
		buf:      newRenderBuffer(opts.FPS),
	}
}

// Status shows text on the transient status line. Without a terminal the
// status line is not drawn.
func (p *printer) Status(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.tty || p.replying {
		return
	}
	p.clearStatusLocked()
	fmt.Fprint(p.w, DimStyle.Render(util.TruncateWidth(text, p.width()-1)))
	p.statusShown = true
}

// ClearStatus removes the status line.
func (p *printer) ClearStatus() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearStatusLocked()
}

func (p *printer) clearStatusLocked() {
	if !p.statusShown {
		return
	}
	p.term.ClearLine()
	fmt.Fprint(p.w, "\r")
	p.statusShown = false
}

// Delta streams part of a reply.
func (p *printer) Delta(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.replying {
		p.clearStatusLocked()
		fmt.Fprint(p.w, assistantStyle.Render("AI:")+" ")
		p.replying = true
	}
	if s, ok := p.buf.Write(text); ok {
		fmt.Fprint(p.w, s)
	}
}

// EndReply flushes the reply. A reply with no deltas prints its full text.
func (p *printer) EndReply(text string, cancelled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.replying {
		p.clearStatusLocked()
		fmt.Fprint(p.w, assistantStyle.Render("AI:")+" "+text)
	}
	if s, ok := p.buf.Flush(); ok {
		fmt.Fprint(p.w, s)
	}
	if cancelled {
		fmt.Fprint(p.w, " "+DimStyle.Render("[stopped]"))
	}
	fmt.Fprint(p.w, "\n\n")
	p.replying = false
}

// Notice prints a session notice.
func (p *printer) Notice(text string) {
	p.line(WarningStyle.Render("** " + text))
}

// User echoes an entry the user did not type, such as a file request.
func (p *printer) User(text string) {
	p.line(promptStyle.Render("You:") + " " + text)
}

// Analysis prints a finished file analysis, rendered as markdown when
// possible.
func (p *printer) Analysis(text string) {
	if p.tty && p.markdown != nil {
		text = strings.TrimRight(p.markdown(text), "\n")
	}
	p.line(assistantStyle.Render("AI:") + "\n" + text + "\n")
}

// Info prints a command result.
func (p *printer) Info(text string) {
	p.line(text)
}

// Error prints an error.
func (p *printer) Error(err error) {
	p.line(ErrorStyle.Render("[Error]") + " " + err.Error())
}

// ClearScreen wipes the terminal.
func (p *printer) ClearScreen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		p.term.ClearScreen()
	}
	p.statusShown = false
}

// line writes a complete line, ending any reply in progress.
func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearStatusLocked()
	if p.replying {
		if rest, ok := p.buf.Flush(); ok {
			fmt.Fprint(p.w, rest)
		}
		fmt.Fprint(p.w, "\n")
		p.replying = false
	}
	fmt.Fprintln(p.w, s)
}
