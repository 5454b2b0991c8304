// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package citecache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidechat/pkg/chat"
)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func intPtr(i int) *int { return &i }

func TestPackCitation_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   chat.Citation
	}{
		{
			name: "all fields",
			in: chat.Citation{
				Source:       "handbook.pdf",
				Content:      "relevant passage",
				DocumentName: strPtr("handbook.pdf"),
				Score:        floatPtr(0.92),
				DatasetID:    strPtr("ds-1"),
				DocumentID:   strPtr("doc-1"),
				SegmentID:    strPtr("seg-1"),
				Position:     intPtr(3),
			},
		},
		{
			name: "required only",
			in:   chat.Citation{Source: "unknown source", Content: "text"},
		},
		{
			name: "sparse optionals",
			in: chat.Citation{
				Source:  "notes.md",
				Content: "body",
				Score:   floatPtr(0.5),
			},
		},
		{
			name: "zero score and position survive",
			in: chat.Citation{
				Source:   "a",
				Content:  "b",
				Score:    floatPtr(0),
				Position: intPtr(0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := packCitation(tt.in)
			require.NoError(t, err)

			got, err := unpackCitation(packed)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.in), "round-trip changed citation: got %+v want %+v", got, tt.in)
		})
	}
}

func TestPackCitation_TrimsTrailingAbsent(t *testing.T) {
	packed, err := packCitation(chat.Citation{Source: "src", Content: "txt"})
	require.NoError(t, err)
	assert.Len(t, packed, 2, "trailing absent optionals should be trimmed")

	// An interior absent field keeps its null slot so positions stay stable.
	packed, err = packCitation(chat.Citation{
		Source:    "src",
		Content:   "txt",
		DatasetID: strPtr("ds-1"),
	})
	require.NoError(t, err)
	require.Len(t, packed, 5)
	assert.Equal(t, "null", string(packed[2]))
	assert.Equal(t, "null", string(packed[3]))
}

func TestUnpackCitation_ShortTuple(t *testing.T) {
	var tuple PackedCitation
	require.NoError(t, json.Unmarshal([]byte(`["src","txt","doc.pdf"]`), &tuple))

	got, err := unpackCitation(tuple)
	require.NoError(t, err)
	assert.Equal(t, "src", got.Source)
	assert.Equal(t, "txt", got.Content)
	require.NotNil(t, got.DocumentName)
	assert.Equal(t, "doc.pdf", *got.DocumentName)
	assert.Nil(t, got.Score)
	assert.Nil(t, got.Position)
}

func TestUnpackCitation_TooShort(t *testing.T) {
	var tuple PackedCitation
	require.NoError(t, json.Unmarshal([]byte(`["only-source"]`), &tuple))

	_, err := unpackCitation(tuple)
	assert.Error(t, err)
}

func TestPackCitations_PreservesOrder(t *testing.T) {
	in := []chat.Citation{
		{Source: "first", Content: "1"},
		{Source: "second", Content: "2"},
		{Source: "third", Content: "3"},
	}

	packed, err := packCitations(in)
	require.NoError(t, err)
	got, err := unpackCitations(packed)
	require.NoError(t, err)

	require.Len(t, got, 3)
	for i := range in {
		assert.True(t, got[i].Equal(in[i]), "citation %d changed", i)
	}
}
