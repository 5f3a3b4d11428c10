package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/speech-jobs/internal/provider"
	"github.com/cuongbtq/speech-jobs/internal/registry"
	"github.com/cuongbtq/speech-jobs/internal/storage"
)

const (
	DefaultQueueSize        = 100
	DefaultProviderTimeout  = 10 * time.Minute
	DefaultProgressInterval = time.Second
)

// Config holds worker configuration
type Config struct {
	Logger           *slog.Logger
	Registry         registry.Registry
	Store            storage.Store
	Providers        *provider.Registry
	RabbitClient     Consumer // nil when jobs are only dispatched in process
	WorkerID         string
	Concurrency      int
	QueueSize        int
	PrefetchCount    int
	ProviderTimeout  time.Duration
	ProgressInterval time.Duration
	RealtimeFactor   float64
	KeepAudio        bool
}

// Consumer is the part of the RabbitMQ client the worker reads jobs from
type Consumer interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// JobMessage is a unit of work for the pool
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`

	// acker is set for RabbitMQ deliveries; local dispatches have nothing to acknowledge
	acker amqp.Acknowledger
}

// Worker runs transcription jobs
type Worker struct {
	logger           *slog.Logger
	registry         registry.Registry
	store            storage.Store
	providers        *provider.Registry
	rabbitClient     Consumer
	workerID         string
	concurrency      int
	prefetchCount    int
	providerTimeout  time.Duration
	progressInterval time.Duration
	estimator        Estimator
	keepAudio        bool
	now              func() time.Time

	jobsChan chan *JobMessage
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	providerTimeout := cfg.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	progressInterval := cfg.ProgressInterval
	if progressInterval <= 0 {
		progressInterval = DefaultProgressInterval
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}

	return &Worker{
		logger:           cfg.Logger,
		registry:         cfg.Registry,
		store:            cfg.Store,
		providers:        cfg.Providers,
		rabbitClient:     cfg.RabbitClient,
		workerID:         workerID,
		concurrency:      concurrency,
		prefetchCount:    prefetch,
		providerTimeout:  providerTimeout,
		progressInterval: progressInterval,
		estimator:        Estimator{RealtimeFactor: cfg.RealtimeFactor},
		keepAudio:        cfg.KeepAudio,
		now:              time.Now,
		jobsChan:         make(chan *JobMessage, queueSize),
		stopChan:         make(chan struct{}),
	}
}

// Start spawns the pool and, when a RabbitMQ client is configured, the
// consumer. It blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("provider_timeout", w.providerTimeout),
	)

	w.spawnWorkerPool(ctx)

	if w.rabbitClient != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			return fmt.Errorf("failed to setup consumer: %w", err)
		}
		go w.startMessageDispatcher(ctx, deliveries)
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker and waits for running jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
