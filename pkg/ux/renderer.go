// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/tidechat/pkg/chat"
	"github.com/AleutianAI/tidechat/pkg/stream"
)

// TranscriptRenderer turns assembler patches into terminal output while
// keeping the applied transcript as the single source of truth.
//
// Deltas are printed as they arrive for the streaming effect. Citations
// are held until the turn finishes so the footer appears once, below the
// completed reply, no matter how many citation batches the stream carried
// (the last batch wins, matching the transcript).
//
// Not safe for concurrent use; the assembler delivers patches from a
// single goroutine per turn.
type TranscriptRenderer struct {
	w        io.Writer
	plain    bool
	messages []chat.Message

	// streamingIndex is the message currently being streamed, -1 when no
	// assistant reply is in flight.
	streamingIndex int
	printedLabel   bool
	replaced       bool
}

// NewTranscriptRenderer creates a renderer writing to w. Plain mode skips
// all ANSI styling.
func NewTranscriptRenderer(w io.Writer, plain bool) *TranscriptRenderer {
	return &TranscriptRenderer{w: w, plain: plain, streamingIndex: -1}
}

// Messages returns the current applied transcript.
func (r *TranscriptRenderer) Messages() []chat.Message {
	return r.messages
}

// SetMessages seeds the transcript, e.g. when resuming a session.
func (r *TranscriptRenderer) SetMessages(messages []chat.Message) {
	r.messages = messages
	r.streamingIndex = -1
}

// Handle applies one patch to the transcript and renders its visible
// effect. Pass it as the OnDelta callback of a turn.
func (r *TranscriptRenderer) Handle(p stream.Patch) {
	r.messages = p.Apply(r.messages)

	switch p.Kind {
	case stream.PatchAppendMessage:
		if p.Message != nil && p.Message.Role == chat.RoleAssistant {
			r.streamingIndex = p.Index
			r.printedLabel = false
			r.replaced = false
		}
	case stream.PatchAppendContent:
		if p.Index != r.streamingIndex || p.Delta == "" {
			return
		}
		r.ensureLabel()
		fmt.Fprint(r.w, p.Delta)
	case stream.PatchReplaceContent:
		if p.Index != r.streamingIndex {
			return
		}
		// Terminal failure: the partial reply on screen no longer matches
		// the transcript, so break the line before printing the replacement.
		r.ensureLabel()
		if !r.replaced {
			fmt.Fprintln(r.w)
			r.replaced = true
		}
		fmt.Fprintln(r.w, r.style(Styles.Error, p.Delta))
	case stream.PatchReplaceCitations:
		// Deferred to FinishTurn; the transcript already holds them.
	}
}

// FinishTurn ends the in-flight reply: closes the streamed line and prints
// the citation footer when the reply carried citations.
func (r *TranscriptRenderer) FinishTurn() {
	if r.streamingIndex < 0 {
		return
	}
	idx := r.streamingIndex
	r.streamingIndex = -1

	if r.printedLabel && !r.replaced {
		fmt.Fprintln(r.w)
	}
	if idx < len(r.messages) {
		r.renderCitations(r.messages[idx].Citations)
	}
	fmt.Fprintln(r.w)
}

// RenderHistory prints a previously loaded transcript, citations included.
func (r *TranscriptRenderer) RenderHistory(messages []chat.Message) {
	for _, msg := range messages {
		fmt.Fprintf(r.w, "%s %s\n", r.roleLabel(msg.Role), msg.Content)
		r.renderCitations(msg.Citations)
		fmt.Fprintln(r.w)
	}
}

func (r *TranscriptRenderer) ensureLabel() {
	if r.printedLabel {
		return
	}
	r.printedLabel = true
	fmt.Fprintf(r.w, "%s ", r.roleLabel(chat.RoleAssistant))
}

func (r *TranscriptRenderer) roleLabel(role chat.Role) string {
	if role == chat.RoleUser {
		return r.style(Styles.UserLabel, "you>")
	}
	return r.style(Styles.AssistantLabel, "tide>")
}

// renderCitations prints the source footer for one message.
func (r *TranscriptRenderer) renderCitations(citations []chat.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Fprintln(r.w, r.style(Styles.CitationHeader, fmt.Sprintf("  sources (%d):", len(citations))))
	for i, c := range citations {
		line := fmt.Sprintf("  [%d] %s", i+1, r.style(Styles.CitationSource, c.Source))
		if c.Score != nil {
			line += " " + r.style(Styles.CitationScore, fmt.Sprintf("(%.2f)", *c.Score))
		}
		fmt.Fprintln(r.w, line)
		if snippet := citationSnippet(c.Content); snippet != "" {
			fmt.Fprintln(r.w, r.style(Styles.Muted, "      "+snippet))
		}
	}
}

func (r *TranscriptRenderer) style(style lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return style.Render(text)
}

// citationSnippet returns the first line of a citation passage, truncated
// on a rune boundary to keep the footer compact.
func citationSnippet(content string) string {
	const maxLen = 120

	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) <= maxLen {
		return line
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return strings.TrimSpace(line[:cut]) + "…"
}
