package domain

import (
	"fmt"
	"strings"
)

// WordTimestamp is the timing of one recognized word
type WordTimestamp struct {
	Word       string   `json:"word" db:"word"`
	StartTime  float64  `json:"start_time" db:"start_time"`
	EndTime    float64  `json:"end_time" db:"end_time"`
	Confidence *float64 `json:"confidence,omitempty" db:"confidence"`
	SpeakerID  *string  `json:"speaker_id,omitempty" db:"speaker_id"`
	Position   int      `json:"position" db:"position"`
}

// Validate checks the timing invariant end > start >= 0
func (w WordTimestamp) Validate() error {
	if w.StartTime < 0 {
		return fmt.Errorf("%w: word %d starts before zero (%.3f)", ErrInvalidWordTimestamp, w.Position, w.StartTime)
	}
	if w.EndTime <= w.StartTime {
		return fmt.Errorf("%w: word %d ends at %.3f, not after its start %.3f", ErrInvalidWordTimestamp, w.Position, w.EndTime, w.StartTime)
	}
	if w.Confidence != nil && (*w.Confidence < 0 || *w.Confidence > 1) {
		return fmt.Errorf("%w: word %d confidence %.3f outside [0,1]", ErrInvalidWordTimestamp, w.Position, *w.Confidence)
	}
	return nil
}

// ValidateWords checks every word and that positions strictly increase after lastPosition.
// Pass -1 when there are no earlier words.
func ValidateWords(words []WordTimestamp, lastPosition int) error {
	prev := lastPosition
	for _, w := range words {
		if err := w.Validate(); err != nil {
			return err
		}
		if w.Position <= prev {
			return fmt.Errorf("%w: position %d does not follow %d", ErrInvalidWordTimestamp, w.Position, prev)
		}
		prev = w.Position
	}
	return nil
}

// SpeakerSegment is a diarized span of speech
type SpeakerSegment struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// TranscriptionResult is the finished transcript attached to a completed job
type TranscriptionResult struct {
	TranscriptionID  string           `json:"transcription_id,omitempty"`
	Text             string           `json:"text"`
	Language         string           `json:"language"`
	ConfidenceScore  *float64         `json:"confidence_score"`
	WordCount        int              `json:"word_count"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Engine           string           `json:"engine"`
	EngineVersion    string           `json:"engine_version,omitempty"`
	Duration         float64          `json:"duration"`
	CostEstimate     float64          `json:"cost_estimate"`
	Words            []WordTimestamp  `json:"words,omitempty"`
	Speakers         []SpeakerSegment `json:"speakers,omitempty"`
}

// Validate checks confidence bounds and word timestamps
func (r *TranscriptionResult) Validate() error {
	if r.ConfidenceScore != nil && (*r.ConfidenceScore < 0 || *r.ConfidenceScore > 1) {
		return fmt.Errorf("confidence score %.3f outside [0,1]", *r.ConfidenceScore)
	}
	if r.WordCount < 0 {
		return fmt.Errorf("word count must not be negative")
	}
	return ValidateWords(r.Words, -1)
}

// Clone returns a deep copy of the result
func (r *TranscriptionResult) Clone() *TranscriptionResult {
	if r == nil {
		return nil
	}

	c := *r
	c.ConfidenceScore = copyFloat(r.ConfidenceScore)
	if r.Words != nil {
		c.Words = make([]WordTimestamp, len(r.Words))
		for i, w := range r.Words {
			w.Confidence = copyFloat(w.Confidence)
			w.SpeakerID = copyString(w.SpeakerID)
			c.Words[i] = w
		}
	}
	if r.Speakers != nil {
		c.Speakers = append([]SpeakerSegment(nil), r.Speakers...)
	}
	return &c
}

// CountWords counts whitespace separated words in text
func CountWords(text string) int {
	return len(strings.Fields(text))
}
