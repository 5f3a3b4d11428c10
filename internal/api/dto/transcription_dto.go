package dto

import (
	"time"

	"github.com/cuongbtq/speech-jobs/internal/domain"
	"github.com/cuongbtq/speech-jobs/internal/storage"
)

type ListTranscriptionsRequest struct {
	Provider string `form:"provider"`
	Search   string `form:"search"`
	DateFrom string `form:"date_from"`
	UserID   string `form:"user_id"`
	Limit    int    `form:"limit"`
	Cursor   string `form:"cursor"`
}

type ListTranscriptionsResponse struct {
	Transcriptions []TranscriptionDTO `json:"transcriptions"`
	NextCursor     string             `json:"next_cursor,omitempty"`
}

type TranscriptionDTO struct {
	ID               string                  `json:"id"`
	JobID            string                  `json:"job_id,omitempty"`
	UserID           *string                 `json:"user_id"`
	AudioFileID      *string                 `json:"audio_file_id"`
	Filename         string                  `json:"filename"`
	Provider         string                  `json:"provider"`
	Text             string                  `json:"text"`
	Language         string                  `json:"language"`
	ConfidenceScore  *float64                `json:"confidence_score"`
	WordCount        int                     `json:"word_count"`
	ProcessingTimeMs int64                   `json:"processing_time_ms"`
	Engine           string                  `json:"engine"`
	EngineVersion    *string                 `json:"engine_version,omitempty"`
	Duration         float64                 `json:"duration"`
	CostEstimate     float64                 `json:"cost_estimate"`
	FileSize         int64                   `json:"file_size"`
	Words            []domain.WordTimestamp  `json:"words,omitempty"`
	Speakers         []domain.SpeakerSegment `json:"speakers,omitempty"`
	CreatedAt        string                  `json:"created_at"`
	UpdatedAt        string                  `json:"updated_at"`
}

func NewTranscriptionDTO(rec *storage.Record) TranscriptionDTO {
	return TranscriptionDTO{
		ID:               rec.ID,
		JobID:            rec.Metadata.JobID,
		UserID:           rec.UserID,
		AudioFileID:      rec.AudioFileID,
		Filename:         rec.Metadata.Filename,
		Provider:         rec.Metadata.Provider,
		Text:             rec.Text,
		Language:         rec.Language,
		ConfidenceScore:  rec.ConfidenceScore,
		WordCount:        rec.WordCount,
		ProcessingTimeMs: rec.ProcessingTimeMs,
		Engine:           rec.Engine,
		EngineVersion:    rec.EngineVersion,
		Duration:         rec.Metadata.Duration,
		CostEstimate:     rec.Metadata.CostEstimate,
		FileSize:         rec.Metadata.FileSize,
		Words:            rec.Words,
		Speakers:         rec.Metadata.Speakers,
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        rec.UpdatedAt.Format(time.RFC3339),
	}
}

type ProviderDTO struct {
	Name          string  `json:"name"`
	CostPerMinute float64 `json:"cost_per_minute"`
}

type ProvidersResponse struct {
	Providers []ProviderDTO `json:"providers"`
}
