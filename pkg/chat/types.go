// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chat defines the message and citation domain types shared by the
// stream assembler, the citation cache, and the CLI.
//
// Types here are plain data. All mutation of message state happens through
// stream.Patch values applied by the owner of the message list; this package
// only provides the vocabulary and a few pure helpers.
package chat

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation transcript.
//
// Content is append-only while a turn is streaming. Citations are set at
// most once per assistant message per turn; a later citation batch replaces
// the earlier one, it never appends.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
}

// Citation is one retrieved-source record attached to an assistant message.
//
// Source and Content are always present (Content may be the empty string).
// The remaining fields are optional; pointer types keep "absent"
// distinguishable from the zero value, which matters for Score and Position
// where 0 is a legitimate stored value.
type Citation struct {
	Source       string   `json:"source"`
	Content      string   `json:"content"`
	DocumentName *string  `json:"document_name,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	DatasetID    *string  `json:"dataset_id,omitempty"`
	DocumentID   *string  `json:"document_id,omitempty"`
	SegmentID    *string  `json:"segment_id,omitempty"`
	Position     *int     `json:"position,omitempty"`
}

// Equal reports whether two citations carry identical populated fields.
func (c Citation) Equal(o Citation) bool {
	return c.Source == o.Source &&
		c.Content == o.Content &&
		eqStrPtr(c.DocumentName, o.DocumentName) &&
		eqFloatPtr(c.Score, o.Score) &&
		eqStrPtr(c.DatasetID, o.DatasetID) &&
		eqStrPtr(c.DocumentID, o.DocumentID) &&
		eqStrPtr(c.SegmentID, o.SegmentID) &&
		eqIntPtr(c.Position, o.Position)
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// MessageRecord is a persisted message as returned by the conversation
// history endpoint. It carries no citations; those are re-attached from the
// local citation cache on load.
type MessageRecord struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // "USER" or "ASSISTANT"
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}
