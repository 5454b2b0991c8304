// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"encoding/json"
	"strings"

	"github.com/AleutianAI/tidechat/pkg/chat"
)

// =============================================================================
// Event Parser
// =============================================================================

// dataPrefix marks meaningful frames; everything else is ignored.
const dataPrefix = "data: "

// doneSentinel is the end-of-stream token. It arrives as a frame payload and
// must not be parsed as JSON.
const doneSentinel = "[DONE]"

// Event is the decoded form of one meaningful frame.
//
// A single frame can carry a text delta, a citation batch, both, or neither
// (e.g. a ping event). Done marks the end-of-stream sentinel; no other field
// is set alongside it.
type Event struct {
	Done      bool
	HasDelta  bool
	Delta     string
	Resources []chat.RetrieverResource
}

// EventParser decodes complete frames into Events.
//
// The parser is stateless and safe for concurrent use.
type EventParser struct{}

// NewEventParser creates a new frame parser.
func NewEventParser() *EventParser {
	return &EventParser{}
}

// wireEvent matches the server's frame payload shape.
type wireEvent struct {
	Event    string `json:"event"`
	Answer   string `json:"answer"`
	Metadata *struct {
		RetrieverResources []chat.RetrieverResource `json:"retriever_resources"`
	} `json:"metadata"`
}

// ParseFrame decodes one complete frame.
//
// Returns (nil, nil) for frames without the "data: " prefix; those carry no
// payload for this client. Returns a non-nil error only for malformed JSON in
// a data frame; the caller logs and skips such frames, never aborting the
// turn over them.
func (p *EventParser) ParseFrame(frame string) (*Event, error) {
	payload, ok := strings.CutPrefix(frame, dataPrefix)
	if !ok {
		return nil, nil
	}

	if strings.Contains(payload, doneSentinel) {
		return &Event{Done: true}, nil
	}

	var raw wireEvent
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, err
	}

	event := &Event{}
	if raw.Event == "message" || raw.Event == "agent_message" {
		event.HasDelta = true
		event.Delta = raw.Answer
	}
	if raw.Metadata != nil {
		event.Resources = raw.Metadata.RetrieverResources
	}
	return event, nil
}
