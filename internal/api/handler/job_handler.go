package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/speech-jobs/internal/api/dto"
	"github.com/cuongbtq/speech-jobs/internal/domain"
)

// allowedExtensions lists the audio containers accepted for upload
var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
}

// SubmitJob handles POST /api/v1/transcriptions/jobs
// Spools the upload, registers a queued job and hands it to a worker
func (h *JobHandler) SubmitJob(c *gin.Context) {
	h.logger.Info("SubmitJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	// 1. Validate form fields and file
	var req dto.SubmitJobRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file is required",
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported file type %q, expected one of .wav, .mp3, .m4a, .flac", ext),
		})
		return
	}

	if file.Size > h.maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("file exceeds the %d byte limit", h.maxUploadSize),
		})
		return
	}

	if !h.providers.Has(req.Provider) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     fmt.Sprintf("unknown provider %q", req.Provider),
			"available": h.providers.Names(),
		})
		return
	}

	// 2. Spool the upload for the worker
	audioPath := filepath.Join(h.uploadDir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, audioPath); err != nil {
		h.logger.Error("Failed to store upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	language := req.Language
	if language == "" {
		language = "en"
	}

	sub := domain.Submission{
		Provider:          req.Provider,
		Language:          language,
		EnableDiarization: req.EnableDiarization,
		MaxSpeakers:       req.MaxSpeakers,
		IncludeTimestamps: req.IncludeTimestamps,
		Filename:          filepath.Base(file.Filename),
		AudioPath:         audioPath,
		FileSize:          file.Size,
		UserID:            optional(req.UserID),
		AudioFileID:       optional(req.AudioFileID),
	}

	// 3. Register the job
	ctx := c.Request.Context()
	jobID, err := h.registry.Create(ctx, sub)
	if err != nil {
		h.removeUpload(audioPath)
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		respondError(c, err, "Failed to create job")
		return
	}

	// 4. Dispatch to a worker
	if err := h.dispatcher.Dispatch(ctx, jobID); err != nil {
		h.logger.Error("Failed to dispatch job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		h.abandon(jobID)
		h.removeUpload(audioPath)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Job could not be queued, please retry later",
			"job_id": jobID,
		})
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("provider", sub.Provider),
		slog.String("filename", sub.Filename),
		slog.Int64("file_size", sub.FileSize),
	)

	// 5. Return job response
	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:  jobID,
		Status: string(domain.StatusQueued),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the current job state, the polling fallback for the progress channel
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c, h.logger)
	if !ok {
		return
	}

	job, err := h.registry.Get(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Warn("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.NewProgressMessage(job))
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a queued or processing job. Terminal jobs answer 409.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := jobIDParam(c, h.logger)
	if !ok {
		return
	}

	h.logger.Info("CancelJob called", slog.String("job_id", jobID))

	ctx := c.Request.Context()
	err := h.registry.Transition(ctx, jobID, domain.StatusCancelled, domain.TransitionPayload{Step: "Cancelled by client"})
	if err != nil {
		h.logger.Warn("Failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		respondError(c, err, "Failed to cancel job")
		return
	}

	job, err := h.registry.Get(ctx, jobID)
	if err != nil {
		respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.NewProgressMessage(job))
}

// abandon cancels a job that never reached a worker
func (h *JobHandler) abandon(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.registry.Transition(ctx, jobID, domain.StatusCancelled, domain.TransitionPayload{Step: "Job could not be queued"})
	if err != nil {
		h.logger.Error("Failed to cancel undispatched job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *JobHandler) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("Failed to remove upload",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// jobIDParam reads and validates :job_id, writing a 400 when it is not a UUID
func jobIDParam(c *gin.Context, logger *slog.Logger) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// RegistryHealth handles GET /health/registry
func (h *JobHandler) RegistryHealth(c *gin.Context) {
	if h.redisClient == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"registry": "memory",
		})
		return
	}

	if err := h.redisClient.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Error("Registry health check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"registry": "redis",
	})
}
