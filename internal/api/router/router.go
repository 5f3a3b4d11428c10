package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/speech-jobs/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "speech-api-service"
	}

	jobHandler := handler.NewJobHandler(deps)
	progressHandler := handler.NewProgressHandler(deps)
	transcriptionHandler := handler.NewTranscriptionHandler(deps)

	// Health check endpoints
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	})
	r.GET("/health/db", transcriptionHandler.DatabaseHealth)
	r.GET("/health/registry", jobHandler.RegistryHealth)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/transcriptions/jobs - Submit audio for transcription
		v1.POST("/transcriptions/jobs", jobHandler.SubmitJob)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs/:job_id - Current job state
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a queued or running job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			// GET /api/v1/jobs/:job_id/ws - Progress over WebSocket
			jobs.GET("/:job_id/ws", progressHandler.StreamWebSocket)

			// GET /api/v1/jobs/:job_id/events - Progress over Server-Sent Events
			jobs.GET("/:job_id/events", progressHandler.StreamEvents)
		}

		transcriptions := v1.Group("/transcriptions")
		{
			// GET /api/v1/transcriptions - History with filtering and pagination
			transcriptions.GET("", transcriptionHandler.ListTranscriptions)

			// GET /api/v1/transcriptions/:id - One stored transcription with words
			transcriptions.GET("/:id", transcriptionHandler.GetTranscription)

			// DELETE /api/v1/transcriptions/:id - Delete a stored transcription
			transcriptions.DELETE("/:id", transcriptionHandler.DeleteTranscription)
		}

		v1.GET("/stats", transcriptionHandler.GetStats)
		v1.GET("/providers", transcriptionHandler.ListProviders)
	}

	return r
}
