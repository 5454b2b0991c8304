// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// request bodies, storage keys, or URLs. Validating before use prevents key
// collisions and keeps malformed identifiers out of server requests.
package validation

import (
	"fmt"
	"regexp"
)

// sessionIDPattern matches the canonical session identifier shape:
// fixed-length hyphenated hex groups (8-4-4-4-12).
var sessionIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-([0-9a-fA-F]{4}-){3}[0-9a-fA-F]{12}$`)

// IsValidSessionID reports whether s looks like a server-minted session
// identifier. An empty string is not valid.
//
// Use this before attaching a session id to a chat request: anything that
// fails the check is treated as "no session" so the server mints a new one
// instead of rejecting the turn.
func IsValidSessionID(s string) bool {
	return sessionIDPattern.MatchString(s)
}

// ValidateSessionID validates a session identifier, returning a descriptive
// error on failure.
//
// Example:
//
//	if err := validation.ValidateSessionID(id); err != nil {
//	    return fmt.Errorf("invalid session: %w", err)
//	}
func ValidateSessionID(s string) error {
	if s == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !sessionIDPattern.MatchString(s) {
		return fmt.Errorf("invalid session id format: %q (must be hyphenated hex groups 8-4-4-4-12)", s)
	}
	return nil
}
