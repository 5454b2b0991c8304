// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package citecache

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/tidechat/pkg/chat"
)

// Storage key layout. One primary key per session; the legacy tiers are
// read (and migrated away from) but never written.
const (
	// PrimaryKeyPrefix prefixes the modern per-session envelope key.
	PrimaryKeyPrefix = "cit:"

	// legacySessionPrefix prefixes the older per-session tier. Same envelope
	// encoding as the modern tier, different key scope.
	legacySessionPrefix = "chat_cit_"

	// legacyGlobalKey is the single oldest-generation entry: one value
	// holding every session's citations.
	legacyGlobalKey = "chat_message_citations"
)

// DefaultSizeBudget bounds the serialized envelope size per session key.
//
// The value is a tunable chosen to stay well under the practical per-key
// limits of the storage mechanisms the cache has lived in; nothing else
// should be inferred from it.
const DefaultSizeBudget = 3800

// Config holds configuration for a Manager. All fields are optional.
type Config struct {
	Primary    Store        // modern tier (default: in-memory)
	Legacy     Store        // legacy tiers (default: same store as Primary)
	SizeBudget int          // serialized envelope budget in bytes (default: DefaultSizeBudget)
	Logger     *slog.Logger // structured logger (default: slog.Default)
}

// Manager owns the citation cache: compact encoding, tier resolution,
// size-bounded writes with ordinal eviction, and legacy migration.
//
// All operations are best effort. Put, Clear, and MigrateLegacy never
// report failure; Get degrades to an empty result. A mutex makes every
// read-modify-write atomic, so concurrent Put calls for the same session
// are last-writer-wins at whole-operation granularity.
type Manager struct {
	primary Store
	legacy  Store
	budget  int
	logger  *slog.Logger

	mu sync.Mutex
}

// NewManager creates a Manager from config.
func NewManager(cfg Config) *Manager {
	primary := cfg.Primary
	if primary == nil {
		primary = NewMemoryStore()
	}
	legacy := cfg.Legacy
	if legacy == nil {
		legacy = primary
	}
	budget := cfg.SizeBudget
	if budget <= 0 {
		budget = DefaultSizeBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{primary: primary, legacy: legacy, budget: budget, logger: logger}
}

// =============================================================================
// Write Path
// =============================================================================

// Put stores citations under a message key for a session.
//
// Empty citation sets are never persisted: absence of a key means "no
// citations", not "empty list". A later Put for the same key replaces the
// earlier entry.
func (m *Manager) Put(sessionID, messageKey string, citations []chat.Citation) {
	if sessionID == "" || messageKey == "" || len(citations) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	env := m.readPrimary(sessionID)
	packed, err := packCitations(citations)
	if err != nil {
		m.logger.Warn("failed to pack citations, write skipped",
			"session_id", sessionID,
			"message_key", messageKey,
			"error", err,
		)
		return
	}
	env.Entries[messageKey] = packed
	m.writeBounded(sessionID, env)
}

// SaveCitations implements the assembler's citation sink using the
// canonical assistant-ordinal key.
func (m *Manager) SaveCitations(sessionID string, assistantOrdinal int, citations []chat.Citation) {
	m.Put(sessionID, chat.AssistantKey(assistantOrdinal), citations)
}

// writeBounded serializes the envelope and writes it, evicting entries from
// the lowest assistant ordinal upward until the result fits the budget and
// the store accepts it. If nothing can be written the session key is
// deleted; the write fails silently either way.
func (m *Manager) writeBounded(sessionID string, env *envelope) {
	key := PrimaryKeyPrefix + sessionID
	evicted := 0

	for {
		data, err := env.encode()
		if err != nil {
			m.logger.Warn("failed to encode citation envelope", "session_id", sessionID, "error", err)
			return
		}

		if len(data) <= m.budget {
			err := m.primary.Set(key, data)
			if err == nil {
				if evicted > 0 {
					m.logger.Info("evicted oldest citation entries to fit budget",
						"session_id", sessionID,
						"evicted", evicted,
						"bytes", len(data),
					)
				}
				return
			}
			// Store-level quota independent of this session's content;
			// keep shrinking before giving up.
			m.logger.Debug("citation write rejected by store",
				"session_id", sessionID,
				"bytes", len(data),
				"error", err,
			)
		}

		keys := env.keysByOrdinal()
		if len(keys) == 0 {
			m.logger.Warn("citation envelope unwritable, dropping session entry",
				"session_id", sessionID,
			)
			if err := m.primary.Delete(key); err != nil {
				m.logger.Debug("failed to delete session entry", "session_id", sessionID, "error", err)
			}
			return
		}
		delete(env.Entries, keys[0])
		evicted++
	}
}

// readPrimary loads the session's current envelope, or a fresh empty one
// when nothing readable exists.
func (m *Manager) readPrimary(sessionID string) *envelope {
	data, err := m.primary.Get(PrimaryKeyPrefix + sessionID)
	if err != nil {
		return newEnvelope()
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		m.logger.Warn("corrupt citation envelope, starting fresh",
			"session_id", sessionID,
			"error", err,
		)
		return newEnvelope()
	}
	return env
}

// =============================================================================
// Read Path
// =============================================================================

// Get returns every cached citation entry for a session, keyed by message
// key. Storage tiers are consulted in priority order (modern per-session,
// legacy per-session, legacy global) and the first non-empty result wins.
// Failures at any tier degrade to the next; the result is empty when
// nothing is cached.
func (m *Manager) Get(sessionID string) map[string][]chat.Citation {
	if sessionID == "" {
		return map[string][]chat.Citation{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if got := m.readEnvelopeTier(m.primary, PrimaryKeyPrefix+sessionID); len(got) > 0 {
		return got
	}
	if got := m.readEnvelopeTier(m.legacy, legacySessionPrefix+sessionID); len(got) > 0 {
		return got
	}
	if got := m.readLegacyGlobal(sessionID); len(got) > 0 {
		return got
	}
	return map[string][]chat.Citation{}
}

// readEnvelopeTier reads one envelope-encoded tier; empty on any failure.
func (m *Manager) readEnvelopeTier(store Store, key string) map[string][]chat.Citation {
	data, err := store.Get(key)
	if err != nil {
		return nil
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		m.logger.Debug("unreadable citation tier", "key", key, "error", err)
		return nil
	}
	return env.unpack()
}

// readLegacyGlobal reads the oldest tier: a single value mapping session id
// to message key to fully expanded citations.
func (m *Manager) readLegacyGlobal(sessionID string) map[string][]chat.Citation {
	data, err := m.legacy.Get(legacyGlobalKey)
	if err != nil {
		return nil
	}
	var all map[string]map[string][]chat.Citation
	if err := json.Unmarshal(data, &all); err != nil {
		m.logger.Debug("unreadable legacy global citation entry", "error", err)
		return nil
	}
	return all[sessionID]
}

// =============================================================================
// Clear / Migration
// =============================================================================

// Clear removes a session's cached citations from the writable tiers.
func (m *Manager) Clear(sessionID string) {
	if sessionID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.primary.Delete(PrimaryKeyPrefix + sessionID); err != nil {
		m.logger.Debug("failed to clear citation entry", "session_id", sessionID, "error", err)
	}
	if err := m.legacy.Delete(legacySessionPrefix + sessionID); err != nil {
		m.logger.Debug("failed to clear legacy citation entry", "session_id", sessionID, "error", err)
	}
}

// MigrateLegacy moves every legacy-tier entry into the modern per-session
// tier and deletes the legacy entries afterwards.
//
// The procedure is idempotent and best effort: corrupt entries are skipped
// without aborting the rest, successfully migrated per-session entries are
// deleted as they go, and the legacy global entry is removed once its
// sessions have been visited. Safe to call on every startup; a no-op once
// nothing legacy remains.
func (m *Manager) MigrateLegacy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	migrated := 0

	keys, err := m.legacy.Keys(legacySessionPrefix)
	if err == nil {
		for _, key := range keys {
			sessionID := strings.TrimPrefix(key, legacySessionPrefix)
			entries := m.readEnvelopeTier(m.legacy, key)
			if len(entries) == 0 {
				// Unreadable or empty; drop it, there is nothing to keep.
				_ = m.legacy.Delete(key)
				continue
			}
			m.mergeIntoPrimary(sessionID, entries)
			_ = m.legacy.Delete(key)
			migrated++
		}
	}

	if data, err := m.legacy.Get(legacyGlobalKey); err == nil {
		var all map[string]map[string][]chat.Citation
		if err := json.Unmarshal(data, &all); err != nil {
			m.logger.Warn("legacy global citation entry unreadable, deleting", "error", err)
		} else {
			for sessionID, entries := range all {
				if sessionID == "" || len(entries) == 0 {
					continue
				}
				m.mergeIntoPrimary(sessionID, entries)
				migrated++
			}
		}
		if err := m.legacy.Delete(legacyGlobalKey); err != nil {
			m.logger.Debug("failed to delete legacy global entry", "error", err)
		}
	}

	if migrated > 0 {
		m.logger.Info("migrated legacy citation entries", "sessions", migrated)
	}
}

// mergeIntoPrimary folds legacy entries into a session's modern envelope.
// Existing modern entries win: migration must never clobber newer data.
func (m *Manager) mergeIntoPrimary(sessionID string, entries map[string][]chat.Citation) {
	env := m.readPrimary(sessionID)
	changed := false
	for key, citations := range entries {
		if len(citations) == 0 {
			continue
		}
		if _, exists := env.Entries[key]; exists {
			continue
		}
		packed, err := packCitations(citations)
		if err != nil {
			m.logger.Debug("skipping unpackable legacy entry",
				"session_id", sessionID,
				"message_key", key,
				"error", err,
			)
			continue
		}
		env.Entries[key] = packed
		changed = true
	}
	if changed {
		m.writeBounded(sessionID, env)
	}
}
