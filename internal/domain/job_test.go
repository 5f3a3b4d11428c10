package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob() *Job {
	return NewJob("job-1", Submission{
		Provider:  "whisper",
		Language:  "en",
		AudioPath: "/tmp/a.wav",
	}, time.Unix(1700000000, 0))
}

func intPtr(v int) *int { return &v }

func TestNewJob(t *testing.T) {
	job := newTestJob()

	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.Result)
	assert.Nil(t, job.Error)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, int64(1), job.Version)
}

func TestJob_ApplyTransition(t *testing.T) {
	result := &TranscriptionResult{Text: "hello world", WordCount: 2}

	tests := []struct {
		name      string
		from      []Status
		to        Status
		payload   TransitionPayload
		wantErr   bool
		errString string
	}{
		{name: "queued to processing", to: StatusProcessing},
		{name: "queued to cancelled", to: StatusCancelled},
		{name: "processing to completed", from: []Status{StatusProcessing}, to: StatusCompleted, payload: TransitionPayload{Result: result}},
		{name: "processing to failed", from: []Status{StatusProcessing}, to: StatusFailed, payload: TransitionPayload{Error: "boom"}},
		{name: "processing to cancelled", from: []Status{StatusProcessing}, to: StatusCancelled},
		{name: "queued to completed", to: StatusCompleted, payload: TransitionPayload{Result: result}, wantErr: true, errString: "cannot move from queued to completed"},
		{name: "queued to queued", to: StatusQueued, wantErr: true},
		{name: "completed without result", from: []Status{StatusProcessing}, to: StatusCompleted, wantErr: true, errString: "requires a result"},
		{name: "failed without message", from: []Status{StatusProcessing}, to: StatusFailed, payload: TransitionPayload{Error: "  "}, wantErr: true, errString: "requires an error message"},
		{name: "out of cancelled", from: []Status{StatusCancelled}, to: StatusProcessing, wantErr: true},
		{name: "completed twice", from: []Status{StatusProcessing, StatusCompleted}, to: StatusCompleted, payload: TransitionPayload{Result: result}, wantErr: true},
		{name: "failed after completed", from: []Status{StatusProcessing, StatusCompleted}, to: StatusFailed, payload: TransitionPayload{Error: "late"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newTestJob()
			now := time.Unix(1700000100, 0)

			for _, s := range tt.from {
				var p TransitionPayload
				switch s {
				case StatusCompleted:
					p.Result = result
				case StatusFailed:
					p.Error = "earlier"
				}
				require.NoError(t, job.ApplyTransition(s, p, now))
			}

			err := job.ApplyTransition(tt.to, tt.payload, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				if tt.errString != "" {
					assert.Contains(t, err.Error(), tt.errString)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.to, job.Status)
			assert.Equal(t, job.Result != nil, job.Status == StatusCompleted)
			assert.Equal(t, job.Error != nil, job.Status == StatusFailed)
			if tt.to.IsTerminal() {
				require.NotNil(t, job.CompletedAt)
				assert.Equal(t, now, *job.CompletedAt)
			}
		})
	}
}

func TestJob_CompletedForcesFullProgress(t *testing.T) {
	job := newTestJob()
	now := time.Now()

	require.NoError(t, job.ApplyTransition(StatusProcessing, TransitionPayload{}, now))
	require.NoError(t, job.ApplyUpdate(ProgressUpdate{Progress: intPtr(40)}, now))
	require.NoError(t, job.ApplyTransition(StatusCompleted, TransitionPayload{Result: &TranscriptionResult{Text: "x"}}, now))

	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.TimeRemaining)
	assert.Equal(t, 0.0, *job.TimeRemaining)
}

func TestJob_ApplyUpdate(t *testing.T) {
	t.Run("progress never regresses", func(t *testing.T) {
		job := newTestJob()
		now := time.Now()

		require.NoError(t, job.ApplyUpdate(ProgressUpdate{Progress: intPtr(50)}, now))
		require.NoError(t, job.ApplyUpdate(ProgressUpdate{Progress: intPtr(30)}, now))
		assert.Equal(t, 50, job.Progress)
	})

	t.Run("progress is capped below 100 while running", func(t *testing.T) {
		job := newTestJob()
		require.NoError(t, job.ApplyUpdate(ProgressUpdate{Progress: intPtr(150)}, time.Now()))
		assert.Equal(t, MaxRunningProgress, job.Progress)
	})

	t.Run("negative progress is clamped", func(t *testing.T) {
		job := newTestJob()
		require.NoError(t, job.ApplyUpdate(ProgressUpdate{Progress: intPtr(-10)}, time.Now()))
		assert.Equal(t, 0, job.Progress)
	})

	t.Run("estimates and step are replaced", func(t *testing.T) {
		job := newTestJob()
		remaining, cost, step := 12.5, 0.04, "Uploading"

		require.NoError(t, job.ApplyUpdate(ProgressUpdate{
			TimeRemaining: &remaining,
			CostEstimate:  &cost,
			CurrentStep:   &step,
		}, time.Now()))

		require.NotNil(t, job.TimeRemaining)
		require.NotNil(t, job.CostEstimate)
		assert.Equal(t, 12.5, *job.TimeRemaining)
		assert.Equal(t, 0.04, *job.CostEstimate)
		assert.Equal(t, "Uploading", job.CurrentStep)

		remaining = 99
		assert.Equal(t, 12.5, *job.TimeRemaining, "update must not alias caller memory")
	})

	t.Run("terminal job rejects updates", func(t *testing.T) {
		job := newTestJob()
		require.NoError(t, job.ApplyTransition(StatusCancelled, TransitionPayload{}, time.Now()))

		before := job.Version
		err := job.ApplyUpdate(ProgressUpdate{Progress: intPtr(10)}, time.Now())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, before, job.Version)
	})

	t.Run("version increments on every mutation", func(t *testing.T) {
		job := newTestJob()
		require.NoError(t, job.ApplyUpdate(ProgressUpdate{Progress: intPtr(1)}, time.Now()))
		require.NoError(t, job.ApplyTransition(StatusProcessing, TransitionPayload{}, time.Now()))
		assert.Equal(t, int64(3), job.Version)
	})
}

func TestJob_Clone(t *testing.T) {
	job := newTestJob()
	cost := 1.5
	job.CostEstimate = &cost
	uid := "user-1"
	job.Submission.UserID = &uid

	c := job.Clone()
	*c.CostEstimate = 9
	*c.Submission.UserID = "other"

	assert.Equal(t, 1.5, *job.CostEstimate)
	assert.Equal(t, "user-1", *job.Submission.UserID)
}

func TestSubmission_Validate(t *testing.T) {
	tests := []struct {
		name      string
		sub       Submission
		errString string
	}{
		{name: "valid", sub: Submission{Provider: "whisper", Language: "en", AudioPath: "/a"}},
		{name: "missing provider", sub: Submission{Language: "en", AudioPath: "/a"}, errString: "provider is required"},
		{name: "missing language", sub: Submission{Provider: "whisper", AudioPath: "/a"}, errString: "language is required"},
		{name: "missing audio", sub: Submission{Provider: "whisper", Language: "en"}, errString: "audio path is required"},
		{name: "negative speakers", sub: Submission{Provider: "whisper", Language: "en", AudioPath: "/a", MaxSpeakers: -1}, errString: "max_speakers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSubmission)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
