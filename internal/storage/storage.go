package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

// Store persists finished transcriptions
type Store interface {
	Save(ctx context.Context, rec *Record) (string, error)
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to filter.Limit+1 records so callers can detect a next page
	List(ctx context.Context, filter Filter) ([]Record, error)
	AppendWords(ctx context.Context, id string, words []domain.WordTimestamp) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*Stats, error)
}

// Record is a stored transcription with its word timings
type Record struct {
	ID               string                 `db:"id" json:"id"`
	UserID           *string                `db:"user_id" json:"user_id"`
	AudioFileID      *string                `db:"audio_file_id" json:"audio_file_id"`
	Text             string                 `db:"text" json:"text"`
	Language         string                 `db:"language" json:"language"`
	ConfidenceScore  *float64               `db:"confidence_score" json:"confidence_score"`
	WordCount        int                    `db:"word_count" json:"word_count"`
	ProcessingTimeMs int64                  `db:"processing_time_ms" json:"processing_time_ms"`
	Engine           string                 `db:"engine" json:"engine"`
	EngineVersion    *string                `db:"engine_version" json:"engine_version,omitempty"`
	Metadata         Metadata               `db:"metadata" json:"metadata"`
	Words            []domain.WordTimestamp `db:"-" json:"words,omitempty"`
	CreatedAt        time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time              `db:"updated_at" json:"updated_at"`
}

// Metadata is the free-form part of a record, stored as JSONB
type Metadata struct {
	JobID             string                  `json:"job_id,omitempty"`
	Filename          string                  `json:"filename"`
	Provider          string                  `json:"provider"`
	EnableDiarization bool                    `json:"enable_diarization"`
	MaxSpeakers       int                     `json:"max_speakers,omitempty"`
	Duration          float64                 `json:"duration"`
	CostEstimate      float64                 `json:"cost_estimate"`
	FileSize          int64                   `json:"file_size"`
	Speakers          []domain.SpeakerSegment `json:"speakers,omitempty"`
}

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
}

// NewRecord builds a record from a finished job result and its submission
func NewRecord(jobID string, sub domain.Submission, result *domain.TranscriptionResult) *Record {
	rec := &Record{
		UserID:           sub.UserID,
		AudioFileID:      sub.AudioFileID,
		Text:             result.Text,
		Language:         result.Language,
		ConfidenceScore:  result.ConfidenceScore,
		WordCount:        result.WordCount,
		ProcessingTimeMs: result.ProcessingTimeMs,
		Engine:           result.Engine,
		Metadata: Metadata{
			JobID:             jobID,
			Filename:          sub.Filename,
			Provider:          sub.Provider,
			EnableDiarization: sub.EnableDiarization,
			MaxSpeakers:       sub.MaxSpeakers,
			Duration:          result.Duration,
			CostEstimate:      result.CostEstimate,
			FileSize:          sub.FileSize,
			Speakers:          result.Speakers,
		},
		Words: result.Words,
	}
	if result.EngineVersion != "" {
		v := result.EngineVersion
		rec.EngineVersion = &v
	}
	return rec
}

// Filter narrows List results
type Filter struct {
	Provider string
	Search   string // case-insensitive filename substring
	DateFrom *time.Time
	UserID   string
	Limit    int
	Cursor   *Cursor
}

// Stats aggregates the stored history
type Stats struct {
	Count             int                      `json:"count"`
	TotalWords        int64                    `json:"total_words"`
	AverageConfidence float64                  `json:"average_confidence"`
	TotalDuration     float64                  `json:"total_duration"`
	TotalCost         float64                  `json:"total_cost"`
	ByProvider        map[string]ProviderStats `json:"by_provider"`
	RecentFiles       []string                 `json:"recent_files"`
}

// ProviderStats is the per-provider slice of Stats
type ProviderStats struct {
	Count    int     `json:"count" db:"count"`
	Duration float64 `json:"duration" db:"duration"`
	Cost     float64 `json:"cost" db:"cost"`
}

// RecentFilesLimit is how many filenames Stats reports
const RecentFilesLimit = 5

func emptyStats() *Stats {
	return &Stats{
		ByProvider:  map[string]ProviderStats{},
		RecentFiles: []string{},
	}
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", domain.ErrPersistence, op, err)
}
