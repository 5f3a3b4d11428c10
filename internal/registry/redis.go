package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

const (
	// DefaultKeyPrefix namespaces registry keys
	DefaultKeyPrefix = "speech-jobs"

	// maxTxRetries bounds optimistic lock retries under contention
	maxTxRetries = 20
)

// RedisConfig holds shared registry configuration
type RedisConfig struct {
	Logger     *slog.Logger
	Client     *redis.Client
	KeyPrefix  string
	Retention  time.Duration
	BufferSize int
}

// Redis is a Registry shared between processes. Mutations use WATCH/MULTI
// and publish the new snapshot in the same transaction.
type Redis struct {
	logger     *slog.Logger
	client     *redis.Client
	prefix     string
	retention  time.Duration
	bufferSize int
	now        func() time.Time
}

// NewRedis creates a registry backed by the given client
func NewRedis(cfg *RedisConfig) *Redis {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		logger:     logger,
		client:     cfg.Client,
		prefix:     prefix,
		retention:  retention,
		bufferSize: cfg.BufferSize,
		now:        time.Now,
	}
}

// Create stores a new queued job
func (r *Redis) Create(ctx context.Context, sub domain.Submission) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	payload, err := json.Marshal(domain.NewJob(id, sub, r.now()))
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := r.client.Set(ctx, r.jobKey(id), payload, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store job: %w", err)
	}

	r.logger.Debug("Job registered", slog.String("job_id", id))
	return id, nil
}

// Get loads the job
func (r *Redis) Get(ctx context.Context, id string) (*domain.Job, error) {
	data, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return decodeJob(data)
}

// Update applies a progress update
func (r *Redis) Update(ctx context.Context, id string, u domain.ProgressUpdate) error {
	return r.mutate(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.ApplyUpdate(u, now)
	})
}

// Transition moves the job to a new status
func (r *Redis) Transition(ctx context.Context, id string, to domain.Status, p domain.TransitionPayload) error {
	return r.mutate(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.ApplyTransition(to, p, now)
	})
}

// Subscribe listens for published snapshots. The channel subscription is
// confirmed before the current state is read, so no update can slip between them.
func (r *Redis) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	pubsub := r.client.Subscribe(ctx, r.eventsKey(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to job events: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := newSubscription(id, r.bufferSize)
	if !sub.deliver(current) {
		_ = pubsub.Close()
		return sub, nil
	}

	go r.forward(pubsub, sub)
	return sub, nil
}

func (r *Redis) forward(pubsub *redis.PubSub, sub *Subscription) {
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-sub.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				sub.Close()
				return
			}

			job, err := decodeJob([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("Dropping undecodable job event",
					slog.String("job_id", sub.JobID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !sub.deliver(job) {
				return
			}
		}
	}
}

func (r *Redis) mutate(ctx context.Context, id string, apply func(job *domain.Job, now time.Time) error) error {
	key := r.jobKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
			}
			return err
		}

		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if err := apply(job, r.now()); err != nil {
			return err
		}

		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		var ttl time.Duration
		if job.Status.IsTerminal() {
			ttl = r.retention
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			pipe.Publish(ctx, r.eventsKey(id), payload)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("failed to update job %s: %w", id, err)
		}
		return err
	}
	return fmt.Errorf("failed to update job %s: too much contention", id)
}

func (r *Redis) jobKey(id string) string {
	return r.prefix + ":job:" + id
}

func (r *Redis) eventsKey(id string) string {
	return r.prefix + ":job:" + id + ":events"
}

func decodeJob(data []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
