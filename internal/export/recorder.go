// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/ctxchat/internal/session"
	"github.com/jeranaias/ctxchat/internal/util"
)

// titleRunes bounds the title taken from the first user message.
const titleRunes = 60

// Recorder collects session events into a transcript. It is safe to call
// Record from the session's worker goroutine while Snapshot runs elsewhere.
type Recorder struct {
	mu      sync.Mutex
	meta    Meta
	created time.Time
	entries []Entry
	now     func() time.Time
}

// NewRecorder creates an empty Recorder.
func NewRecorder(meta Meta) *Recorder {
	return &Recorder{meta: meta, created: time.Now(), now: time.Now}
}

// Record appends the transcript-visible part of e. It has the signature of
// a session.Listener.
func (r *Recorder) Record(e session.Event) {
	switch e.Kind {
	case session.EventUser:
		r.add(Entry{Kind: EntryUser, Text: e.Text})
	case session.EventReply:
		r.add(Entry{Kind: EntryAssistant, Text: e.Text, Cancelled: e.Cancelled})
	case session.EventNotice:
		r.add(Entry{Kind: EntryNotice, Text: e.Text})
	case session.EventAnalysis:
		r.add(Entry{Kind: EntryAnalysis, Text: e.Text})
	}
}

// Note appends a notice that did not come from the session, such as a
// command result.
func (r *Recorder) Note(text string) {
	r.add(Entry{Kind: EntryNotice, Text: text})
}

func (r *Recorder) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Time = r.now()
	r.entries = append(r.entries, e)
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops all entries. The model history is not affected.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.created = r.now()
}

// SetMeta replaces the session metadata, e.g. after a config reload.
func (r *Recorder) SetMeta(meta Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta = meta
}

// Snapshot returns a copy of the transcript recorded so far.
func (r *Recorder) Snapshot() *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Transcript{
		Title:     "Chat",
		Meta:      r.meta,
		CreatedAt: r.created,
		Entries:   append([]Entry(nil), r.entries...),
	}
	for _, e := range r.entries {
		if e.Kind == EntryUser {
			if line, _, _ := strings.Cut(strings.TrimSpace(e.Text), "\n"); line != "" {
				t.Title = util.TruncateRunes(line, titleRunes)
			}
			break
		}
	}
	return t
}
