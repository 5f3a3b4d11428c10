package domain

import (
	"fmt"
	"strings"
	"time"
)

// Submission describes what the client asked to transcribe
type Submission struct {
	Provider          string  `json:"provider"`
	Language          string  `json:"language"`
	EnableDiarization bool    `json:"enable_diarization"`
	MaxSpeakers       int     `json:"max_speakers"`
	IncludeTimestamps bool    `json:"include_timestamps"`
	Filename          string  `json:"filename"`
	AudioPath         string  `json:"audio_path"`
	FileSize          int64   `json:"file_size"`
	UserID            *string `json:"user_id,omitempty"`
	AudioFileID       *string `json:"audio_file_id,omitempty"`
}

// Validate checks the fields a worker cannot run without
func (s Submission) Validate() error {
	if strings.TrimSpace(s.Provider) == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(s.Language) == "" {
		return fmt.Errorf("%w: language is required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(s.AudioPath) == "" {
		return fmt.Errorf("%w: audio path is required", ErrInvalidSubmission)
	}
	if s.MaxSpeakers < 0 {
		return fmt.Errorf("%w: max_speakers must not be negative", ErrInvalidSubmission)
	}
	return nil
}

// Job is the registry record of one transcription request
type Job struct {
	ID            string               `json:"id"`
	Status        Status               `json:"status"`
	Progress      int                  `json:"progress"`
	CurrentStep   string               `json:"current_step"`
	TimeRemaining *float64             `json:"time_remaining"`
	CostEstimate  *float64             `json:"cost_estimate"`
	Result        *TranscriptionResult `json:"result,omitempty"`
	Error         *string              `json:"error,omitempty"`
	Submission    Submission           `json:"submission"`
	Version       int64                `json:"version"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// NewJob returns a queued job for the given submission
func NewJob(id string, sub Submission, now time.Time) *Job {
	return &Job{
		ID:          id,
		Status:      StatusQueued,
		Progress:    MinProgress,
		CurrentStep: "Job queued",
		Submission:  sub,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ProgressUpdate is a partial mutation of a running job. Nil fields are left unchanged.
type ProgressUpdate struct {
	Progress      *int
	TimeRemaining *float64
	CostEstimate  *float64
	CurrentStep   *string
}

// TransitionPayload carries the data attached to a status change
type TransitionPayload struct {
	Result *TranscriptionResult
	Error  string
	Step   string
}

// ApplyUpdate mutates progress and estimates. Progress never moves backwards
// and stays below 100 until the job completes.
func (j *Job) ApplyUpdate(u ProgressUpdate, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.ID, j.Status)
	}

	if u.Progress != nil {
		p := clampProgress(*u.Progress, MaxRunningProgress)
		if p > j.Progress {
			j.Progress = p
		}
	}
	if u.TimeRemaining != nil {
		j.TimeRemaining = float64Ptr(*u.TimeRemaining)
	}
	if u.CostEstimate != nil {
		j.CostEstimate = float64Ptr(*u.CostEstimate)
	}
	if u.CurrentStep != nil {
		j.CurrentStep = *u.CurrentStep
	}

	j.touch(now)
	return nil
}

// ApplyTransition enforces the job state machine:
//
//	queued -> processing
//	processing -> completed | failed
//	queued | processing -> cancelled
func (j *Job) ApplyTransition(to Status, p TransitionPayload, now time.Time) error {
	if !isValidTransition(j.Status, to) {
		return fmt.Errorf("%w: job %s cannot move from %s to %s", ErrInvalidTransition, j.ID, j.Status, to)
	}

	switch to {
	case StatusProcessing:
		j.CurrentStep = stepOr(p.Step, "Processing audio")

	case StatusCompleted:
		if p.Result == nil {
			return fmt.Errorf("%w: completed transition requires a result", ErrInvalidTransition)
		}
		j.Result = p.Result.Clone()
		j.Progress = MaxProgress
		j.TimeRemaining = float64Ptr(0)
		j.CurrentStep = stepOr(p.Step, "Transcription completed")

	case StatusFailed:
		msg := strings.TrimSpace(p.Error)
		if msg == "" {
			return fmt.Errorf("%w: failed transition requires an error message", ErrInvalidTransition)
		}
		j.Error = &msg
		j.TimeRemaining = nil
		j.CurrentStep = stepOr(p.Step, "Transcription failed")

	case StatusCancelled:
		j.TimeRemaining = nil
		j.CurrentStep = stepOr(p.Step, "Job cancelled")
	}

	j.Status = to
	if to.IsTerminal() {
		completedAt := now
		j.CompletedAt = &completedAt
	}

	j.touch(now)
	return nil
}

// Clone returns a deep copy that can be handed to readers
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	c := *j
	c.TimeRemaining = copyFloat(j.TimeRemaining)
	c.CostEstimate = copyFloat(j.CostEstimate)
	c.Result = j.Result.Clone()
	if j.Error != nil {
		msg := *j.Error
		c.Error = &msg
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Submission.UserID = copyString(j.Submission.UserID)
	c.Submission.AudioFileID = copyString(j.Submission.AudioFileID)
	return &c
}

func (j *Job) touch(now time.Time) {
	j.UpdatedAt = now
	j.Version++
}

func isValidTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

func clampProgress(p, upper int) int {
	if p < MinProgress {
		return MinProgress
	}
	if p > upper {
		return upper
	}
	return p
}

func stepOr(step, fallback string) string {
	if step != "" {
		return step
	}
	return fallback
}

func float64Ptr(v float64) *float64 {
	return &v
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return float64Ptr(*v)
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
