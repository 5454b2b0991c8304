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

	"github.com/AleutianAI/tidechat/pkg/chat"
)

// PackedCitation is the compact tuple encoding of one citation:
//
//	[source, content, documentName?, score?, datasetId?, documentId?, segmentId?, position?]
//
// Positions are fixed; trailing absent fields are trimmed from the tuple
// entirely rather than written as null, which is the dominant space saving
// since citation content strings already dominate the serialized size.
// Short tuples decode with the missing trailing positions treated as absent.
type PackedCitation []json.RawMessage

// packedFieldCount is the full tuple width.
const packedFieldCount = 8

// packCitation encodes a citation into its tuple form.
func packCitation(c chat.Citation) (PackedCitation, error) {
	fields := [packedFieldCount]any{
		c.Source, c.Content,
		ptrVal(c.DocumentName), ptrVal(c.Score),
		ptrVal(c.DatasetID), ptrVal(c.DocumentID),
		ptrVal(c.SegmentID), ptrVal(c.Position),
	}

	// Trim trailing absent fields.
	width := packedFieldCount
	for width > 2 && fields[width-1] == nil {
		width--
	}

	tuple := make(PackedCitation, 0, width)
	for i := 0; i < width; i++ {
		raw, err := json.Marshal(fields[i])
		if err != nil {
			return nil, fmt.Errorf("marshal tuple field %d: %w", i, err)
		}
		tuple = append(tuple, raw)
	}
	return tuple, nil
}

// unpackCitation decodes a tuple, tolerating short and null-padded tuples.
func unpackCitation(tuple PackedCitation) (chat.Citation, error) {
	var c chat.Citation
	if len(tuple) < 2 {
		return c, fmt.Errorf("citation tuple too short: %d fields", len(tuple))
	}

	if err := json.Unmarshal(tuple[0], &c.Source); err != nil {
		return c, fmt.Errorf("unmarshal source: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &c.Content); err != nil {
		return c, fmt.Errorf("unmarshal content: %w", err)
	}

	for i := 2; i < len(tuple) && i < packedFieldCount; i++ {
		raw := tuple[i]
		if string(raw) == "null" {
			continue
		}
		var err error
		switch i {
		case 2:
			err = json.Unmarshal(raw, &c.DocumentName)
		case 3:
			err = json.Unmarshal(raw, &c.Score)
		case 4:
			err = json.Unmarshal(raw, &c.DatasetID)
		case 5:
			err = json.Unmarshal(raw, &c.DocumentID)
		case 6:
			err = json.Unmarshal(raw, &c.SegmentID)
		case 7:
			err = json.Unmarshal(raw, &c.Position)
		}
		if err != nil {
			return c, fmt.Errorf("unmarshal tuple field %d: %w", i, err)
		}
	}
	return c, nil
}

// packCitations encodes a batch; unpackCitations decodes one back.
func packCitations(citations []chat.Citation) ([]PackedCitation, error) {
	packed := make([]PackedCitation, 0, len(citations))
	for _, c := range citations {
		tuple, err := packCitation(c)
		if err != nil {
			return nil, err
		}
		packed = append(packed, tuple)
	}
	return packed, nil
}

func unpackCitations(packed []PackedCitation) ([]chat.Citation, error) {
	citations := make([]chat.Citation, 0, len(packed))
	for _, tuple := range packed {
		c, err := unpackCitation(tuple)
		if err != nil {
			return nil, err
		}
		citations = append(citations, c)
	}
	return citations, nil
}

// ptrVal flattens a typed pointer into any, keeping nil pointers as untyped
// nil so trailing-field trimming can compare against nil directly.
func ptrVal[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
