package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/speech-jobs/internal/domain"
	"github.com/cuongbtq/speech-jobs/internal/provider"
	"github.com/cuongbtq/speech-jobs/internal/storage"
)

// persistFailurePrefix starts the error stored on a job whose result could not be saved
const persistFailurePrefix = "transcription succeeded but storing the result failed: "

// processJob drives one job from queued to a terminal status.
// A nil return means the message can be acknowledged.
func (w *Worker) processJob(ctx context.Context, msg *JobMessage) error {
	job, err := w.registry.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("Job not found, skipping", slog.String("job_id", msg.JobID))
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if job.Status.IsTerminal() {
		w.logger.Info("Job already finished before processing started",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		w.removeAudio(job)
		return nil
	}

	// Claim the job (queued -> processing)
	err = w.registry.Transition(ctx, job.ID, domain.StatusProcessing, domain.TransitionPayload{Step: "Preparing audio"})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			w.logger.Warn("Job already claimed or cancelled, skipping", slog.String("job_id", job.ID))
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}
	defer w.removeAudio(job)

	w.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("provider", job.Submission.Provider),
		slog.String("worker_id", w.workerID),
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var cancelled atomic.Bool
	if sub, err := w.registry.Subscribe(ctx, job.ID); err != nil {
		w.logger.Warn("Failed to watch job for cancellation",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	} else {
		defer sub.Close()
		go func() {
			for snapshot := range sub.C() {
				if snapshot.Status == domain.StatusCancelled {
					cancelled.Store(true)
					cancelRun()
					return
				}
			}
		}()
	}

	p, err := w.providers.Get(job.Submission.Provider)
	if err != nil {
		w.fail(job.ID, provider.Classify(job.Submission.Provider, err).Message())
		return nil
	}

	started := w.now()
	transcript, err := w.transcribe(runCtx, job, p)
	elapsed := w.now().Sub(started)

	if err != nil {
		switch {
		case cancelled.Load():
			w.logger.Info("Job cancelled during transcription", slog.String("job_id", job.ID))
		case ctx.Err() != nil:
			w.fail(job.ID, "worker shut down before the transcription finished")
		default:
			perr := provider.Classify(p.Name(), err)
			w.logger.Warn("Provider failed",
				slog.String("job_id", job.ID),
				slog.String("kind", string(perr.Kind)),
				slog.String("error", err.Error()),
			)
			w.fail(job.ID, perr.Message())
		}
		return nil
	}

	result := w.buildResult(job, p, transcript, elapsed)
	return w.complete(ctx, job, result)
}

// transcribe runs the provider under the provider timeout while a ticker
// publishes estimated progress
func (w *Worker) transcribe(ctx context.Context, job *domain.Job, p provider.Provider) (*provider.Transcript, error) {
	providerCtx, cancel := context.WithTimeout(ctx, w.providerTimeout)
	defer cancel()

	duration := w.estimator.AudioDuration(job.Submission.FileSize)
	tracker := &progressTracker{
		started:  w.now(),
		expected: w.estimator.ExpectedProcessing(duration),
		cost:     w.estimator.Cost(p.Name(), duration),
		step:     fmt.Sprintf("Transcribing audio with %s", p.Name()),
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reportProgress(providerCtx, job.ID, tracker, done)
	}()

	transcript, err := p.Transcribe(providerCtx, provider.Request{
		AudioPath:         job.Submission.AudioPath,
		Filename:          job.Submission.Filename,
		Language:          job.Submission.Language,
		EnableDiarization: job.Submission.EnableDiarization,
		MaxSpeakers:       job.Submission.MaxSpeakers,
		IncludeTimestamps: job.Submission.IncludeTimestamps,
	}, tracker.observe)

	close(done)
	wg.Wait()

	if err != nil && errors.Is(providerCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &provider.Error{Provider: p.Name(), Kind: provider.KindTimeout, Err: err}
	}
	return transcript, err
}

// progressTracker merges provider reported progress with the time based estimate
type progressTracker struct {
	started  time.Time
	expected time.Duration
	cost     float64
	step     string
	reported atomic.Int32
}

func (t *progressTracker) observe(percent int) {
	if percent > maxEstimated {
		percent = maxEstimated
	}
	for {
		cur := t.reported.Load()
		if int32(percent) <= cur || t.reported.CompareAndSwap(cur, int32(percent)) {
			return
		}
	}
}

func (t *progressTracker) update(est Estimator, now time.Time) domain.ProgressUpdate {
	elapsed := now.Sub(t.started)

	progress := est.Progress(elapsed, t.expected)
	if reported := int(t.reported.Load()); reported > progress {
		progress = reported
	}
	remaining := est.Remaining(elapsed, t.expected)
	cost := t.cost
	step := t.step

	return domain.ProgressUpdate{
		Progress:      &progress,
		TimeRemaining: &remaining,
		CostEstimate:  &cost,
		CurrentStep:   &step,
	}
}

func (w *Worker) reportProgress(ctx context.Context, jobID string, t *progressTracker, done <-chan struct{}) {
	ticker := time.NewTicker(w.progressInterval)
	defer ticker.Stop()

	push := func() bool {
		err := w.registry.Update(ctx, jobID, t.update(w.estimator, w.now()))
		if err == nil {
			return true
		}
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			return false
		}
		w.logger.Warn("Failed to update job progress",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return true
	}

	if !push() {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !push() {
				return
			}
		}
	}
}

// buildResult turns raw provider output into the job result
func (w *Worker) buildResult(job *domain.Job, p provider.Provider, t *provider.Transcript, elapsed time.Duration) *domain.TranscriptionResult {
	duration := t.Duration
	if duration <= 0 {
		duration = w.estimator.AudioDuration(job.Submission.FileSize)
	}

	language := t.Language
	if language == "" {
		language = job.Submission.Language
	}

	engineVersion := t.EngineVersion
	if engineVersion == "" {
		engineVersion = p.Model()
	}

	text := strings.TrimSpace(t.Text)
	result := &domain.TranscriptionResult{
		Text:             text,
		Language:         language,
		ConfidenceScore:  t.Confidence,
		WordCount:        domain.CountWords(text),
		ProcessingTimeMs: elapsed.Milliseconds(),
		Engine:           p.Name(),
		EngineVersion:    engineVersion,
		Duration:         duration,
		CostEstimate:     w.estimator.Cost(p.Name(), duration),
	}

	if job.Submission.IncludeTimestamps {
		result.Words = toWordTimestamps(t.Words)
	}
	if job.Submission.EnableDiarization {
		result.Speakers = t.Segments
	}
	return result
}

// toWordTimestamps numbers words and drops entries with unusable timing
func toWordTimestamps(words []provider.Word) []domain.WordTimestamp {
	out := make([]domain.WordTimestamp, 0, len(words))
	for _, pw := range words {
		wt := domain.WordTimestamp{
			Word:       pw.Word,
			StartTime:  pw.Start,
			EndTime:    pw.End,
			Confidence: pw.Confidence,
			Position:   len(out),
		}
		if pw.Speaker != "" {
			speaker := pw.Speaker
			wt.SpeakerID = &speaker
		}
		if wt.Validate() != nil {
			continue
		}
		out = append(out, wt)
	}
	return out
}

// complete persists the result and moves the job to completed, unless it was
// cancelled in the meantime
func (w *Worker) complete(ctx context.Context, job *domain.Job, result *domain.TranscriptionResult) error {
	current, err := w.registry.Get(ctx, job.ID)
	if err == nil && current.Status.IsTerminal() {
		w.logger.Info("Discarding result of finished job",
			slog.String("job_id", job.ID),
			slog.String("status", string(current.Status)),
		)
		return nil
	}

	step, progress := "Saving transcription", maxEstimated
	if err := w.registry.Update(ctx, job.ID, domain.ProgressUpdate{Progress: &progress, CurrentStep: &step}); err != nil &&
		errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}

	id, err := w.store.Save(ctx, storage.NewRecord(job.ID, job.Submission, result))
	if err != nil {
		w.logger.Error("Failed to persist transcription",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
			slog.String("text", result.Text),
			slog.Int("word_count", result.WordCount),
		)
		w.fail(job.ID, persistFailurePrefix+err.Error())
		return nil
	}
	result.TranscriptionID = id

	err = w.registry.Transition(ctx, job.ID, domain.StatusCompleted, domain.TransitionPayload{Result: result})
	if err == nil {
		w.logger.Info("Job completed successfully",
			slog.String("job_id", job.ID),
			slog.String("transcription_id", id),
			slog.Int("word_count", result.WordCount),
			slog.Int64("processing_time_ms", result.ProcessingTimeMs),
		)
		return nil
	}

	if errors.Is(err, domain.ErrInvalidTransition) {
		w.logger.Info("Job finished elsewhere before completion, discarding result",
			slog.String("job_id", job.ID),
			slog.String("transcription_id", id),
		)
		if delErr := w.store.Delete(ctx, id); delErr != nil {
			w.logger.Error("Failed to remove discarded transcription",
				slog.String("transcription_id", id),
				slog.String("error", delErr.Error()),
			)
		}
		return nil
	}

	return fmt.Errorf("failed to complete job: %w", err)
}

// fail moves the job to failed. Losing to another terminal transition is expected and only logged.
func (w *Worker) fail(jobID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := w.registry.Transition(ctx, jobID, domain.StatusFailed, domain.TransitionPayload{Error: message})
	switch {
	case err == nil:
		w.logger.Info("Job failed",
			slog.String("job_id", jobID),
			slog.String("reason", message),
		)
	case errors.Is(err, domain.ErrInvalidTransition):
		w.logger.Debug("Job already terminal, failure dropped",
			slog.String("job_id", jobID),
			slog.String("reason", message),
		)
	default:
		w.logger.Error("Failed to mark job as failed",
			slog.String("job_id", jobID),
			slog.String("reason", message),
			slog.String("error", err.Error()),
		)
	}
}

// removeAudio deletes the spooled upload once the job no longer needs it
func (w *Worker) removeAudio(job *domain.Job) {
	if w.keepAudio || job.Submission.AudioPath == "" {
		return
	}
	if err := os.Remove(job.Submission.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("Failed to remove audio file",
			slog.String("job_id", job.ID),
			slog.String("path", job.Submission.AudioPath),
			slog.String("error", err.Error()),
		)
	}
}
