package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrQueueFull is returned when the local job queue cannot take another job
var ErrQueueFull = errors.New("job queue is full")

// Dispatcher hands a registered job to whatever runs it
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Dispatch enqueues a job on the in-process pool without blocking
func (w *Worker) Dispatch(ctx context.Context, jobID string) error {
	select {
	case <-w.stopChan:
		return fmt.Errorf("worker is stopped")
	default:
	}

	select {
	case w.jobsChan <- &JobMessage{JobID: jobID}:
		w.logger.Debug("Job dispatched to worker pool", slog.String("job_id", jobID))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Publisher is the part of the RabbitMQ client the dispatcher needs
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// RabbitDispatcher publishes job ids for worker-service instances
type RabbitDispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewRabbitDispatcher creates a dispatcher on top of a publisher
func NewRabbitDispatcher(publisher Publisher, logger *slog.Logger) *RabbitDispatcher {
	return &RabbitDispatcher{publisher: publisher, logger: logger}
}

// Dispatch publishes {"job_id": ...}
func (d *RabbitDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := d.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		d.logger.Error("Failed to publish job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to publish job: %w", err)
	}

	d.logger.Debug("Job published", slog.String("job_id", jobID))
	return nil
}
