// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream implements the incremental response assembler for the chat
// backend's chunked event stream.
//
// It follows the layered streaming architecture:
//
//	HTTP Response Body → Framer → EventParser → Assembler → Patch callbacks
//
// The Framer turns arbitrary byte chunks into complete delimiter-framed
// events, the EventParser decodes one frame into a typed event, and the
// Assembler drives a whole chat turn: request, retry-without-session, frame
// loop, patch emission, citation hand-off, and cancellation.
//
// The Assembler never owns message storage. All transcript mutation is
// reported to the caller through ordinal-indexed Patch values, so the caller
// (CLI loop, UI layer, tests) applies them to its own message list.
package stream

import (
	"github.com/AleutianAI/tidechat/pkg/chat"
)

// =============================================================================
// Patches
// =============================================================================

// PatchKind discriminates transcript mutations emitted during a turn.
type PatchKind int

const (
	// PatchAppendMessage appends a new message at Index.
	PatchAppendMessage PatchKind = iota
	// PatchAppendContent appends Delta to the content of the message at Index.
	PatchAppendContent
	// PatchReplaceContent replaces the content of the message at Index.
	PatchReplaceContent
	// PatchReplaceCitations replaces the citations of the message at Index.
	PatchReplaceCitations
)

// Patch is one transcript mutation. Index addresses the caller's message
// list; for PatchAppendMessage it is the position at which the new message
// is inserted (always the current end of the list).
type Patch struct {
	Kind      PatchKind
	Index     int
	Message   *chat.Message   // PatchAppendMessage only
	Delta     string          // PatchAppendContent / PatchReplaceContent
	Citations []chat.Citation // PatchReplaceCitations only
}

// Apply applies the patch to a message list and returns the updated list.
//
// Out-of-range indexes are ignored rather than panicking; a stale patch must
// never corrupt a caller's transcript.
func (p Patch) Apply(messages []chat.Message) []chat.Message {
	switch p.Kind {
	case PatchAppendMessage:
		if p.Message == nil {
			return messages
		}
		return append(messages, *p.Message)
	case PatchAppendContent:
		if p.Index >= 0 && p.Index < len(messages) {
			messages[p.Index].Content += p.Delta
		}
	case PatchReplaceContent:
		if p.Index >= 0 && p.Index < len(messages) {
			messages[p.Index].Content = p.Delta
			messages[p.Index].Citations = nil
		}
	case PatchReplaceCitations:
		if p.Index >= 0 && p.Index < len(messages) {
			messages[p.Index].Citations = p.Citations
		}
	}
	return messages
}

// =============================================================================
// Turn Contract
// =============================================================================

// TurnRequest describes one chat turn.
//
// Prior is the caller's current ordered message list; the Assembler uses it
// only to compute the insertion index and the assistant ordinal, it never
// mutates it.
type TurnRequest struct {
	Text            string
	SessionID       string // attached only if it passes the session-id format check
	KnowledgeBaseID string
	Prior           []chat.Message

	// OnDelta receives every transcript mutation, in order. Required.
	OnDelta func(Patch)

	// OnSessionAssigned is invoked at most once per turn, before any frame
	// processing, when the server's authoritative session id differs from
	// SessionID. Optional.
	OnSessionAssigned func(sessionID string)
}

// CitationSink receives citation batches as they arrive mid-stream.
//
// Implemented by citecache.Manager. Persistence is best effort: the
// Assembler ignores sink failures, which is why the method returns nothing.
type CitationSink interface {
	SaveCitations(sessionID string, assistantOrdinal int, citations []chat.Citation)
}

// chatRequest is the wire body of a chat turn.
type chatRequest struct {
	Message         string `json:"message"`
	SessionID       string `json:"sessionId,omitempty"`
	KnowledgeBaseID string `json:"knowledgeBaseId,omitempty"`
}

// SessionIDHeader carries the authoritative session id on the chat response.
const SessionIDHeader = "X-Conversation-ID"
