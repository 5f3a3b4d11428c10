package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

func TestNewProgressMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	result := &domain.TranscriptionResult{Text: "hi", WordCount: 1}
	msg := "provider whisper did not finish in time"

	tests := []struct {
		name       string
		status     domain.Status
		wantResult bool
		wantError  bool
	}{
		{name: "queued", status: domain.StatusQueued},
		{name: "processing", status: domain.StatusProcessing},
		{name: "completed", status: domain.StatusCompleted, wantResult: true},
		{name: "failed", status: domain.StatusFailed, wantError: true},
		{name: "cancelled", status: domain.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := domain.NewJob("job-1", domain.Submission{}, now)
			job.Status = tt.status
			// stray fields must not leak into statuses that do not own them
			job.Result = result
			job.Error = &msg

			out := NewProgressMessage(job)
			assert.Equal(t, "job-1", out.JobID)
			assert.Equal(t, string(tt.status), out.Status)
			assert.Equal(t, "2026-03-01T10:00:00Z", out.CreatedAt)
			assert.Equal(t, tt.wantResult, out.Result != nil)
			assert.Equal(t, tt.wantError, out.Error != nil)

			raw, err := json.Marshal(out)
			require.NoError(t, err)
			assert.Contains(t, string(raw), `"time_remaining":null`)
			assert.Contains(t, string(raw), `"cost_estimate":null`)
		})
	}
}
