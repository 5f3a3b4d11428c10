package dto

import (
	"time"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

// SubmitJobRequest holds the multipart form fields next to the uploaded file
type SubmitJobRequest struct {
	Provider          string `form:"provider" binding:"required"`
	Language          string `form:"language"`
	EnableDiarization bool   `form:"enable_diarization"`
	MaxSpeakers       int    `form:"max_speakers" binding:"min=0"`
	IncludeTimestamps bool   `form:"include_timestamps"`
	UserID            string `form:"user_id"`
	AudioFileID       string `form:"audio_file_id"`
}

type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ProgressMessage is pushed over the progress channel and returned by GET /jobs/:job_id
type ProgressMessage struct {
	JobID         string                      `json:"job_id"`
	Status        string                      `json:"status"`
	Progress      int                         `json:"progress"`
	TimeRemaining *float64                    `json:"time_remaining"`
	CostEstimate  *float64                    `json:"cost_estimate"`
	CurrentStep   string                      `json:"current_step"`
	Result        *domain.TranscriptionResult `json:"result,omitempty"`
	Error         *string                     `json:"error,omitempty"`
	CreatedAt     string                      `json:"created_at"`
	UpdatedAt     string                      `json:"updated_at"`
	CompletedAt   string                      `json:"completed_at,omitempty"`
}

// NewProgressMessage renders a job snapshot. Result is only set for completed
// jobs and Error only for failed ones.
func NewProgressMessage(job *domain.Job) ProgressMessage {
	msg := ProgressMessage{
		JobID:         job.ID,
		Status:        string(job.Status),
		Progress:      job.Progress,
		TimeRemaining: job.TimeRemaining,
		CostEstimate:  job.CostEstimate,
		CurrentStep:   job.CurrentStep,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}

	switch job.Status {
	case domain.StatusCompleted:
		msg.Result = job.Result
	case domain.StatusFailed:
		msg.Error = job.Error
	}
	if job.CompletedAt != nil {
		msg.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return msg
}
