// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

// UnknownSourceLabel is the synthetic source name used when a retrieved
// resource carries neither a document name nor a dataset name.
const UnknownSourceLabel = "unknown source"

// RetrieverResource is the wire shape of one retrieved-source record inside
// a metadata stream event.
//
// All fields except Content are optional on the wire; pointer types preserve
// absence through normalization.
type RetrieverResource struct {
	DocumentName *string  `json:"document_name,omitempty"`
	DatasetName  *string  `json:"dataset_name,omitempty"`
	Content      string   `json:"content"`
	Score        *float64 `json:"score,omitempty"`
	DatasetID    *string  `json:"dataset_id,omitempty"`
	DocumentID   *string  `json:"document_id,omitempty"`
	SegmentID    *string  `json:"segment_id,omitempty"`
	Position     *int     `json:"position,omitempty"`
}

// NormalizeCitations converts retrieved-source wire records into Citations.
//
// The source label falls back from document name to dataset name to
// UnknownSourceLabel. Optional fields pass through untouched so that an
// explicit zero score survives as zero rather than becoming absent.
func NormalizeCitations(resources []RetrieverResource) []Citation {
	if len(resources) == 0 {
		return nil
	}

	citations := make([]Citation, 0, len(resources))
	for _, r := range resources {
		source := UnknownSourceLabel
		if r.DocumentName != nil && *r.DocumentName != "" {
			source = *r.DocumentName
		} else if r.DatasetName != nil && *r.DatasetName != "" {
			source = *r.DatasetName
		}

		citations = append(citations, Citation{
			Source:       source,
			Content:      r.Content,
			DocumentName: r.DocumentName,
			Score:        r.Score,
			DatasetID:    r.DatasetID,
			DocumentID:   r.DocumentID,
			SegmentID:    r.SegmentID,
			Position:     r.Position,
		})
	}
	return citations
}
