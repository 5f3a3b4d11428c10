package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/speech-jobs/internal/domain"
	"github.com/cuongbtq/speech-jobs/internal/provider"
	"github.com/cuongbtq/speech-jobs/internal/registry"
	"github.com/cuongbtq/speech-jobs/internal/storage"
	"github.com/cuongbtq/speech-jobs/internal/worker"
)

// DefaultMaxUploadSize caps uploaded audio at 100MB
const DefaultMaxUploadSize int64 = 100 << 20

// HealthChecker is implemented by the database and redis clients
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Registry      registry.Registry
	Store         storage.Store
	Dispatcher    worker.Dispatcher
	Providers     *provider.Registry
	DBClient      HealthChecker // nil when results are kept in memory
	RedisClient   HealthChecker // nil for the in-process registry
	UploadDir     string
	MaxUploadSize int64
	ServiceName   string
}

// JobHandler handles job submission, query and cancellation
type JobHandler struct {
	logger        *slog.Logger
	registry      registry.Registry
	dispatcher    worker.Dispatcher
	providers     *provider.Registry
	uploadDir     string
	maxUploadSize int64
	redisClient   HealthChecker
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxSize := deps.MaxUploadSize
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	return &JobHandler{
		logger:        deps.Logger,
		registry:      deps.Registry,
		dispatcher:    deps.Dispatcher,
		providers:     deps.Providers,
		uploadDir:     deps.UploadDir,
		maxUploadSize: maxSize,
		redisClient:   deps.RedisClient,
	}
}

// ProgressHandler streams job snapshots to clients
type ProgressHandler struct {
	logger   *slog.Logger
	registry registry.Registry
}

func NewProgressHandler(deps *Dependencies) *ProgressHandler {
	return &ProgressHandler{
		logger:   deps.Logger,
		registry: deps.Registry,
	}
}

// TranscriptionHandler serves the stored transcription history
type TranscriptionHandler struct {
	logger    *slog.Logger
	store     storage.Store
	providers *provider.Registry
	dbClient  HealthChecker
}

func NewTranscriptionHandler(deps *Dependencies) *TranscriptionHandler {
	return &TranscriptionHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		providers: deps.Providers,
		dbClient:  deps.DBClient,
	}
}

// respondError maps domain errors onto HTTP status codes
func respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidSubmission), errors.Is(err, domain.ErrInvalidWordTimestamp):
		status = http.StatusBadRequest
	}

	body := gin.H{"error": message}
	if status != http.StatusInternalServerError {
		body["details"] = err.Error()
	}
	c.JSON(status, body)
}
