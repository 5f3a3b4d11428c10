package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWords(t *testing.T) {
	conf := 0.9
	badConf := 1.2

	tests := []struct {
		name    string
		words   []WordTimestamp
		last    int
		wantErr bool
	}{
		{
			name: "ordered words",
			words: []WordTimestamp{
				{Word: "a", StartTime: 0.0, EndTime: 0.5, Position: 0},
				{Word: "b", StartTime: 0.5, EndTime: 1.1, Position: 1, Confidence: &conf},
				{Word: "c", StartTime: 1.1, EndTime: 1.9, Position: 2},
			},
			last: -1,
		},
		{name: "empty", words: nil, last: -1},
		{
			name:    "end equals start",
			words:   []WordTimestamp{{Word: "a", StartTime: 1, EndTime: 1, Position: 0}},
			last:    -1,
			wantErr: true,
		},
		{
			name:    "end before start",
			words:   []WordTimestamp{{Word: "a", StartTime: 2, EndTime: 1, Position: 0}},
			last:    -1,
			wantErr: true,
		},
		{
			name:    "negative start",
			words:   []WordTimestamp{{Word: "a", StartTime: -0.1, EndTime: 1, Position: 0}},
			last:    -1,
			wantErr: true,
		},
		{
			name: "duplicate position",
			words: []WordTimestamp{
				{Word: "a", StartTime: 0, EndTime: 1, Position: 0},
				{Word: "b", StartTime: 1, EndTime: 2, Position: 0},
			},
			last:    -1,
			wantErr: true,
		},
		{
			name:    "position does not follow existing words",
			words:   []WordTimestamp{{Word: "d", StartTime: 2, EndTime: 3, Position: 2}},
			last:    2,
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			words:   []WordTimestamp{{Word: "a", StartTime: 0, EndTime: 1, Position: 0, Confidence: &badConf}},
			last:    -1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWords(tt.words, tt.last)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidWordTimestamp)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTranscriptionResult_Clone(t *testing.T) {
	conf := 0.8
	speaker := "spk_0"
	r := &TranscriptionResult{
		Text:            "hi there",
		ConfidenceScore: &conf,
		Words: []WordTimestamp{
			{Word: "hi", StartTime: 0, EndTime: 0.4, Position: 0, SpeakerID: &speaker},
		},
	}

	c := r.Clone()
	*c.ConfidenceScore = 0.1
	*c.Words[0].SpeakerID = "spk_9"
	c.Words[0].Word = "changed"

	assert.Equal(t, 0.8, *r.ConfidenceScore)
	assert.Equal(t, "spk_0", *r.Words[0].SpeakerID)
	assert.Equal(t, "hi", r.Words[0].Word)
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords("   "))
	assert.Equal(t, 3, CountWords("one  two\tthree"))
}
