package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/speech-jobs/internal/api/dto"
	"github.com/cuongbtq/speech-jobs/internal/provider"
	"github.com/cuongbtq/speech-jobs/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListTranscriptions handles GET /api/v1/transcriptions
// Lists stored transcriptions newest first with cursor pagination
func (h *TranscriptionHandler) ListTranscriptions(c *gin.Context) {
	h.logger.Info("ListTranscriptions called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	// 1. Parse query parameters
	var req dto.ListTranscriptionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	// 2. Validate parameters
	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}

	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}

	var dateFrom *time.Time
	if req.DateFrom != "" {
		t, err := parseDate(req.DateFrom)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "date_from must be RFC3339 or YYYY-MM-DD",
			})
			return
		}
		dateFrom = &t
	}

	// 3. Decode cursor for pagination
	cursor, err := storage.DecodeCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// 4. Build filter and query the store
	records, err := h.store.List(c.Request.Context(), storage.Filter{
		Provider: req.Provider,
		Search:   req.Search,
		DateFrom: dateFrom,
		UserID:   req.UserID,
		Limit:    req.Limit,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list transcriptions", slog.String("error", err.Error()))
		respondError(c, err, "Failed to list transcriptions")
		return
	}

	// 5. Prepare response with next cursor if more results exist
	hasMore := len(records) > req.Limit
	if hasMore {
		records = records[:req.Limit]
	}

	items := make([]dto.TranscriptionDTO, len(records))
	for i := range records {
		items[i] = dto.NewTranscriptionDTO(&records[i])
	}

	var nextCursor string
	if hasMore {
		nextCursor = storage.EncodeCursor(&records[len(records)-1])
	}

	c.JSON(http.StatusOK, dto.ListTranscriptionsResponse{
		Transcriptions: items,
		NextCursor:     nextCursor,
	})
}

// GetTranscription handles GET /api/v1/transcriptions/:id
func (h *TranscriptionHandler) GetTranscription(c *gin.Context) {
	id, ok := transcriptionIDParam(c)
	if !ok {
		return
	}

	rec, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("Failed to get transcription",
			slog.String("transcription_id", id),
			slog.String("error", err.Error()),
		)
		respondError(c, err, "Failed to get transcription")
		return
	}

	c.JSON(http.StatusOK, dto.NewTranscriptionDTO(rec))
}

// DeleteTranscription handles DELETE /api/v1/transcriptions/:id
func (h *TranscriptionHandler) DeleteTranscription(c *gin.Context) {
	id, ok := transcriptionIDParam(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		h.logger.Warn("Failed to delete transcription",
			slog.String("transcription_id", id),
			slog.String("error", err.Error()),
		)
		respondError(c, err, "Failed to delete transcription")
		return
	}

	h.logger.Info("Transcription deleted", slog.String("transcription_id", id))
	c.Status(http.StatusNoContent)
}

// GetStats handles GET /api/v1/stats
func (h *TranscriptionHandler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to compute stats", slog.String("error", err.Error()))
		respondError(c, err, "Failed to compute stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ListProviders handles GET /api/v1/providers
func (h *TranscriptionHandler) ListProviders(c *gin.Context) {
	names := h.providers.Names()
	out := make([]dto.ProviderDTO, len(names))
	for i, name := range names {
		out[i] = dto.ProviderDTO{Name: name, CostPerMinute: provider.CostPerMinute(name)}
	}

	c.JSON(http.StatusOK, dto.ProvidersResponse{Providers: out})
}

// DatabaseHealth handles GET /health/db
func (h *TranscriptionHandler) DatabaseHealth(c *gin.Context) {
	if h.dbClient == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"database": "memory",
		})
		return
	}

	if err := h.dbClient.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Error("Database health check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "postgresql",
	})
}

func transcriptionIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id must be a valid UUID",
		})
		return "", false
	}
	return id, true
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
