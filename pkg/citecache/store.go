// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package citecache persists citation metadata into quota-constrained local
// storage so conversation history can be restored without re-querying the
// server.
//
// The cache is a best-effort enhancement. Every storage failure (quota
// exhaustion, corrupt entries, a missing backing store) degrades to "no
// cached citations"; nothing in this package ever propagates an error into
// the chat turn.
package citecache

import (
	"errors"
	"strings"
	"sync"
)

// ErrQuotaExceeded is returned by Store.Set when the backing store cannot
// accept the value regardless of this session's content.
var ErrQuotaExceeded = errors.New("citecache: storage quota exceeded")

// ErrNotFound is returned by Store.Get for missing keys.
var ErrNotFound = errors.New("citecache: key not found")

// Store is the key/value contract the cache manager writes through.
//
// Implementations: MemoryStore (tests, ephemeral default) and
// badgerkv.Store (embedded persistent tier).
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set writes the value. Returns ErrQuotaExceeded when the store is full.
	Set(key string, value []byte) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys returns every key with the given prefix, in unspecified order.
	Keys(prefix string) ([]string, error)
}

// =============================================================================
// Memory Store
// =============================================================================

// MemoryStore is an in-process Store with an optional total-byte quota,
// mirroring the hard per-origin quota of browser-local storage. A Quota of
// zero means unlimited.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	Quota int
}

// NewMemoryStore creates an empty unbounded MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// NewMemoryStoreWithQuota creates a MemoryStore that rejects writes once the
// total stored bytes (keys + values) would exceed quota.
func NewMemoryStoreWithQuota(quota int) *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), Quota: quota}
}

// Get implements Store.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Quota > 0 {
		total := len(key) + len(value)
		for k, v := range s.data {
			if k == key {
				continue
			}
			total += len(k) + len(v)
		}
		if total > s.Quota {
			return ErrQuotaExceeded
		}
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)
