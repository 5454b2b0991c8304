// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// AssistantKey builds the canonical cache key for the n-th assistant message
// of a session (1-based). The first assistant message maps to "a:1".
//
// Assistant ordinals are stable across reloads, unlike raw array indexes,
// which shift when the transcript is re-fetched.
func AssistantKey(ordinal int) string {
	return fmt.Sprintf("a:%d", ordinal)
}

// KeyOrdinal extracts the assistant ordinal from a cache key.
//
// Canonical "a:<n>" keys return n. Anything else, including the legacy
// raw-index keys still found in old cache entries, returns 0, which sorts
// such keys ahead of every canonical key during eviction.
func KeyOrdinal(key string) int {
	rest, ok := strings.CutPrefix(key, "a:")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// MergeCachedCitations attaches cached citations to freshly fetched message
// records, producing the transcript shown after a conversation reload.
//
// For each assistant record the canonical "a:<n>" key is preferred; if it is
// missing, the legacy raw-index key (the record's zero-based position as a
// string) is consulted so pre-migration caches still resolve.
func MergeCachedCitations(records []MessageRecord, cached map[string][]Citation) []Message {
	messages := make([]Message, 0, len(records))
	assistantCount := 0

	for i, rec := range records {
		role := RoleAssistant
		if strings.EqualFold(rec.Role, "USER") {
			role = RoleUser
		}

		var citations []Citation
		if role == RoleAssistant {
			assistantCount++
			citations = cached[AssistantKey(assistantCount)]
			if len(citations) == 0 {
				citations = cached[strconv.Itoa(i)]
			}
		}

		messages = append(messages, Message{
			Role:      role,
			Content:   rec.Content,
			Citations: citations,
		})
	}
	return messages
}
