package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cuongbtq/speech-jobs/internal/api/dto"
	"github.com/cuongbtq/speech-jobs/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamWebSocket handles GET /api/v1/jobs/:job_id/ws
// Sends the current state, every update, then closes after the terminal snapshot
func (h *ProgressHandler) StreamWebSocket(c *gin.Context) {
	jobID, ok := jobIDParam(c, h.logger)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sub, err := h.registry.Subscribe(ctx, jobID)
	if err != nil {
		respondError(c, err, "Failed to subscribe to job")
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	h.logger.Info("Progress subscriber connected",
		slog.String("job_id", jobID),
		slog.String("transport", "websocket"),
	)

	// The reader only exists to notice pongs and a client going away
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case job, ok := <-sub.C():
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(dto.NewProgressMessage(job)); err != nil {
				h.deliveryFailed(jobID, "websocket", err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.deliveryFailed(jobID, "websocket", err)
				return
			}

		case <-gone:
			h.logger.Info("Progress subscriber disconnected",
				slog.String("job_id", jobID),
				slog.String("transport", "websocket"),
			)
			return

		case <-ctx.Done():
			return
		}
	}
}

// StreamEvents handles GET /api/v1/jobs/:job_id/events
// Server-Sent Events variant of the progress channel
func (h *ProgressHandler) StreamEvents(c *gin.Context) {
	jobID, ok := jobIDParam(c, h.logger)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sub, err := h.registry.Subscribe(ctx, jobID)
	if err != nil {
		respondError(c, err, "Failed to subscribe to job")
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	h.logger.Info("Progress subscriber connected",
		slog.String("job_id", jobID),
		slog.String("transport", "sse"),
	)

	c.Stream(func(w io.Writer) bool {
		select {
		case job, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent("progress", dto.NewProgressMessage(job))
			return !job.Status.IsTerminal()
		case <-ctx.Done():
			return false
		}
	})
}

// deliveryFailed logs a push that did not reach the client. It never affects the job.
func (h *ProgressHandler) deliveryFailed(jobID, transport string, err error) {
	h.logger.Warn("Progress delivery failed",
		slog.String("job_id", jobID),
		slog.String("transport", transport),
		slog.String("error", fmt.Errorf("%w: %v", domain.ErrChannelDelivery, err).Error()),
	)
}
