// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package citecache

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AleutianAI/tidechat/pkg/chat"
)

// envelopeVersion is the only version the write path produces.
const envelopeVersion = 1

// envelope is the versioned serialized container for one session's citation
// entries: message key → packed citation tuples.
//
// Message keys are canonical "a:<n>" assistant ordinals; legacy raw-index
// keys may appear in entries read from old caches but are never written by
// new code.
type envelope struct {
	Version int                         `json:"v"`
	Entries map[string][]PackedCitation `json:"m"`
}

func newEnvelope() *envelope {
	return &envelope{Version: envelopeVersion, Entries: make(map[string][]PackedCitation)}
}

// decodeEnvelope parses a serialized envelope. Returns an error for any
// shape that is not a version-1 envelope with an entry map.
func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.Entries == nil {
		env.Entries = make(map[string][]PackedCitation)
	}
	return &env, nil
}

// encode serializes the envelope.
func (e *envelope) encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// unpack decodes every entry into full citations, skipping entries whose
// tuples are unreadable: one corrupt message must not hide the rest.
func (e *envelope) unpack() map[string][]chat.Citation {
	out := make(map[string][]chat.Citation, len(e.Entries))
	for key, packed := range e.Entries {
		citations, err := unpackCitations(packed)
		if err != nil || len(citations) == 0 {
			continue
		}
		out[key] = citations
	}
	return out
}

// keysByOrdinal returns the entry keys sorted ascending by assistant
// ordinal, the eviction order. Legacy non-canonical keys sort as ordinal 0
// and are evicted first; ties break lexicographically for determinism.
func (e *envelope) keysByOrdinal() []string {
	keys := make([]string, 0, len(e.Entries))
	for k := range e.Entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, oj := chat.KeyOrdinal(keys[i]), chat.KeyOrdinal(keys[j])
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})
	return keys
}
