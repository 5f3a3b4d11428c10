package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

const transcriptionColumns = `
	id, user_id, audio_file_id, text, language, confidence_score,
	word_count, processing_time_ms, engine, engine_version, metadata,
	created_at, updated_at`

// Postgres stores transcriptions in the transcriptions and word_timestamps tables
type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgres wraps an open connection
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

type wordRow struct {
	TranscriptionID string `db:"transcription_id"`
	domain.WordTimestamp
}

// Save inserts the transcription and its words in one transaction
func (s *Postgres) Save(ctx context.Context, rec *Record) (string, error) {
	if err := domain.ValidateWords(rec.Words, -1); err != nil {
		return "", err
	}
	if rec.ConfidenceScore != nil && (*rec.ConfidenceScore < 0 || *rec.ConfidenceScore > 1) {
		return "", fmt.Errorf("%w: confidence score %.3f outside [0,1]", domain.ErrPersistence, *rec.ConfidenceScore)
	}

	row := *rec
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := s.now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", persistenceError("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		INSERT INTO transcriptions (` + transcriptionColumns + `)
		VALUES (
			:id, :user_id, :audio_file_id, :text, :language, :confidence_score,
			:word_count, :processing_time_ms, :engine, :engine_version, :metadata,
			:created_at, :updated_at
		)
	`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return "", persistenceError("insert transcription", err)
	}

	if err := insertWords(ctx, tx, row.ID, row.Words); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", persistenceError("commit transcription", err)
	}

	rec.ID = row.ID
	rec.CreatedAt = row.CreatedAt
	rec.UpdatedAt = row.UpdatedAt
	return row.ID, nil
}

// Get loads a transcription with its words ordered by position
func (s *Postgres) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	query := `SELECT ` + transcriptionColumns + ` FROM transcriptions WHERE id = $1`

	if err := s.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transcription %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transcription: %w", err)
	}

	words := []domain.WordTimestamp{}
	wordsQuery := `
		SELECT word, start_time, end_time, confidence, speaker_id, position
		FROM word_timestamps
		WHERE transcription_id = $1
		ORDER BY position
	`
	if err := s.db.SelectContext(ctx, &words, wordsQuery, id); err != nil {
		return nil, fmt.Errorf("failed to get word timestamps: %w", err)
	}
	rec.Words = words

	return &rec, nil
}

// List returns records newest first
func (s *Postgres) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT ` + transcriptionColumns + ` FROM transcriptions WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Provider != "" {
		query += fmt.Sprintf(" AND metadata->>'provider' = $%d", argIdx)
		args = append(args, filter.Provider)
		argIdx++
	}

	if filter.Search != "" {
		query += fmt.Sprintf(" AND metadata->>'filename' ILIKE $%d", argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	if filter.DateFrom != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filter.DateFrom)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.Limit+1)

	records := []Record{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transcriptions: %w", err)
	}

	return records, nil
}

// AppendWords adds words after the existing ones
func (s *Postgres) AppendWords(ctx context.Context, id string, words []domain.WordTimestamp) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceError("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var locked string
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM transcriptions WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transcription %s: %w", id, domain.ErrNotFound)
		}
		return persistenceError("lock transcription", err)
	}

	var last int
	if err := tx.GetContext(ctx, &last, `SELECT COALESCE(MAX(position), -1) FROM word_timestamps WHERE transcription_id = $1`, id); err != nil {
		return persistenceError("read last word position", err)
	}
	if err := domain.ValidateWords(words, last); err != nil {
		return err
	}

	if err := insertWords(ctx, tx, id, words); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transcriptions SET word_count = word_count + $1, updated_at = $2 WHERE id = $3`,
		len(words), s.now().UTC(), id,
	); err != nil {
		return persistenceError("update word count", err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceError("commit words", err)
	}
	return nil
}

// Delete removes a transcription; word timestamps cascade
func (s *Postgres) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE id = $1`, id)
	if err != nil {
		return persistenceError("delete transcription", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return persistenceError("delete transcription", err)
	}
	if n == 0 {
		return fmt.Errorf("transcription %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Stats aggregates counts, durations and costs over all transcriptions
func (s *Postgres) Stats(ctx context.Context) (*Stats, error) {
	stats := emptyStats()

	var totals struct {
		Count             int     `db:"count"`
		TotalWords        int64   `db:"total_words"`
		AverageConfidence float64 `db:"average_confidence"`
		TotalDuration     float64 `db:"total_duration"`
		TotalCost         float64 `db:"total_cost"`
	}
	totalsQuery := `
		SELECT
			COUNT(*) AS count,
			COALESCE(SUM(word_count), 0) AS total_words,
			COALESCE(AVG(confidence_score), 0) AS average_confidence,
			COALESCE(SUM((metadata->>'duration')::float8), 0) AS total_duration,
			COALESCE(SUM((metadata->>'cost_estimate')::float8), 0) AS total_cost
		FROM transcriptions
	`
	if err := s.db.GetContext(ctx, &totals, totalsQuery); err != nil {
		return nil, fmt.Errorf("failed to aggregate transcriptions: %w", err)
	}
	stats.Count = totals.Count
	stats.TotalWords = totals.TotalWords
	stats.AverageConfidence = totals.AverageConfidence
	stats.TotalDuration = totals.TotalDuration
	stats.TotalCost = totals.TotalCost

	var providers []struct {
		Provider string `db:"provider"`
		ProviderStats
	}
	providerQuery := `
		SELECT
			COALESCE(metadata->>'provider', 'unknown') AS provider,
			COUNT(*) AS count,
			COALESCE(SUM((metadata->>'duration')::float8), 0) AS duration,
			COALESCE(SUM((metadata->>'cost_estimate')::float8), 0) AS cost
		FROM transcriptions
		GROUP BY 1
	`
	if err := s.db.SelectContext(ctx, &providers, providerQuery); err != nil {
		return nil, fmt.Errorf("failed to aggregate providers: %w", err)
	}
	for _, p := range providers {
		stats.ByProvider[p.Provider] = p.ProviderStats
	}

	recentQuery := `
		SELECT COALESCE(metadata->>'filename', '')
		FROM transcriptions
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	if err := s.db.SelectContext(ctx, &stats.RecentFiles, recentQuery, RecentFilesLimit); err != nil {
		return nil, fmt.Errorf("failed to list recent files: %w", err)
	}

	return stats, nil
}

func insertWords(ctx context.Context, tx *sqlx.Tx, id string, words []domain.WordTimestamp) error {
	if len(words) == 0 {
		return nil
	}

	rows := make([]wordRow, len(words))
	for i, w := range words {
		rows[i] = wordRow{TranscriptionID: id, WordTimestamp: w}
	}

	query := `
		INSERT INTO word_timestamps (transcription_id, word, start_time, end_time, confidence, speaker_id, position)
		VALUES (:transcription_id, :word, :start_time, :end_time, :confidence, :speaker_id, :position)
	`
	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return persistenceError("insert word timestamps", err)
	}
	return nil
}
