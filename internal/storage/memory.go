package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

// Memory is a Store kept in process memory
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (s *Memory) Save(ctx context.Context, rec *Record) (string, error) {
	if err := domain.ValidateWords(rec.Words, -1); err != nil {
		return "", err
	}
	if rec.ConfidenceScore != nil && (*rec.ConfidenceScore < 0 || *rec.ConfidenceScore > 1) {
		return "", fmt.Errorf("%w: confidence score %.3f outside [0,1]", domain.ErrPersistence, *rec.ConfidenceScore)
	}

	stored := cloneRecord(rec)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[stored.ID]; ok {
		return "", persistenceError("insert transcription", fmt.Errorf("duplicate id %s", stored.ID))
	}
	s.records[stored.ID] = stored

	rec.ID = stored.ID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return stored.ID, nil
}

func (s *Memory) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("transcription %s: %w", id, domain.ErrNotFound)
	}
	out := cloneRecord(rec)
	if out.Words == nil {
		out.Words = []domain.WordTimestamp{}
	}
	return out, nil
}

func (s *Memory) List(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	matched := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if filter.UserID != "" && (rec.UserID == nil || *rec.UserID != filter.UserID) {
			continue
		}
		if filter.Provider != "" && rec.Metadata.Provider != filter.Provider {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(rec.Metadata.Filename), search) {
			continue
		}
		if filter.DateFrom != nil && rec.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.Cursor != nil && !filter.Cursor.before(rec.CreatedAt, rec.ID) {
			continue
		}

		r := cloneRecord(rec)
		r.Words = nil
		matched = append(matched, *r)
	}

	sortNewestFirst(matched)
	if len(matched) > filter.Limit+1 {
		matched = matched[:filter.Limit+1]
	}
	return matched, nil
}

func (s *Memory) AppendWords(ctx context.Context, id string, words []domain.WordTimestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("transcription %s: %w", id, domain.ErrNotFound)
	}

	last := -1
	if n := len(rec.Words); n > 0 {
		last = rec.Words[n-1].Position
	}
	if err := domain.ValidateWords(words, last); err != nil {
		return err
	}

	rec.Words = append(rec.Words, cloneWords(words)...)
	rec.WordCount += len(words)
	rec.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Memory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("transcription %s: %w", id, domain.ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

func (s *Memory) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := emptyStats()
	all := make([]Record, 0, len(s.records))

	var confSum float64
	var confCount int
	for _, rec := range s.records {
		stats.Count++
		stats.TotalWords += int64(rec.WordCount)
		stats.TotalDuration += rec.Metadata.Duration
		stats.TotalCost += rec.Metadata.CostEstimate
		if rec.ConfidenceScore != nil {
			confSum += *rec.ConfidenceScore
			confCount++
		}

		provider := rec.Metadata.Provider
		if provider == "" {
			provider = "unknown"
		}
		p := stats.ByProvider[provider]
		p.Count++
		p.Duration += rec.Metadata.Duration
		p.Cost += rec.Metadata.CostEstimate
		stats.ByProvider[provider] = p

		all = append(all, *rec)
	}
	if confCount > 0 {
		stats.AverageConfidence = confSum / float64(confCount)
	}

	sortNewestFirst(all)
	for i := 0; i < len(all) && i < RecentFilesLimit; i++ {
		stats.RecentFiles = append(stats.RecentFiles, all[i].Metadata.Filename)
	}
	return stats, nil
}

func sortNewestFirst(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func cloneRecord(rec *Record) *Record {
	c := *rec
	c.Words = cloneWords(rec.Words)
	if rec.Metadata.Speakers != nil {
		c.Metadata.Speakers = append([]domain.SpeakerSegment(nil), rec.Metadata.Speakers...)
	}
	return &c
}

func cloneWords(words []domain.WordTimestamp) []domain.WordTimestamp {
	if words == nil {
		return nil
	}
	return append([]domain.WordTimestamp(nil), words...)
}
