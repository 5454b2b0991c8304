// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"strings"
	"unicode/utf8"
)

// FrameDelimiter separates event frames in the chunked response body.
const FrameDelimiter = "\n\n"

// Framer reassembles complete event frames from arbitrary byte chunks.
//
// Chunk boundaries carry no meaning: a chunk may end in the middle of a
// multi-byte UTF-8 codepoint or in the middle of the frame delimiter. The
// Framer holds back any trailing incomplete codepoint before decoding, and
// keeps the trailing incomplete frame fragment in its text buffer, so the
// sequence of frames it emits is invariant under re-chunking.
//
// Not safe for concurrent use; one Framer serves one stream.
type Framer struct {
	pending []byte // undecoded tail bytes (possible partial codepoint)
	buf     string // decoded text not yet terminated by a delimiter
}

// NewFramer creates an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Push feeds the next byte chunk and returns every frame completed by it,
// in arrival order. Frames are returned without their trailing delimiter.
func (f *Framer) Push(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	f.pending = append(f.pending, chunk...)
	cut := completePrefixLen(f.pending)
	if cut == 0 {
		return nil
	}

	f.buf += string(f.pending[:cut])
	f.pending = append(f.pending[:0], f.pending[cut:]...)

	parts := strings.Split(f.buf, FrameDelimiter)
	f.buf = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Flush returns whatever text remains buffered at end of stream, decoding
// any held-back bytes. The result is the final, delimiter-less fragment; it
// may be empty.
func (f *Framer) Flush() string {
	if len(f.pending) > 0 {
		f.buf += string(f.pending)
		f.pending = nil
	}
	out := f.buf
	f.buf = ""
	return out
}

// completePrefixLen returns the length of the longest prefix of p that ends
// on a UTF-8 codepoint boundary. Bytes past that point are the start of a
// codepoint whose continuation bytes have not arrived yet.
func completePrefixLen(p []byte) int {
	// A codepoint is at most 4 bytes, so only the last 3 bytes can hide an
	// incomplete sequence.
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax+1; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if !utf8.FullRune(p[i:]) {
			return i
		}
		break
	}
	return len(p)
}
