package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

// EnqueueJobRequest is the POST /api/v1/jobs body.
type EnqueueJobRequest struct {
	Queue   string          `json:"queue" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// EnqueueJob handles POST /api/v1/jobs
// Pushes a new job onto the named queue for the next free worker.
func (h *JobHandler) EnqueueJob(c *gin.Context) {
	var req EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "queue and payload are required",
		})
		return
	}

	job, err := h.broker.Enqueue(c.Request.Context(), req.Queue, req.Payload)
	if err != nil {
		h.logger.Error("Failed to enqueue job",
			slog.String("queue", req.Queue),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.logger.Info("Job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("queue", job.Queue),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":      job.JobID,
		"queue":       job.Queue,
		"enqueued_at": job.EnqueuedAt,
	})
}

// GetResult handles GET /api/v1/results/:job_id
// Returns the stored result, or 404 once the retention window has passed.
func (h *JobHandler) GetResult(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	res, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "result not found or expired",
			})
			return
		}
		h.logger.Error("Failed to read result",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read result",
		})
		return
	}

	c.JSON(http.StatusOK, res)
}
