package handlers

import (
	"log/slog"
	"net/http"

	"pitmon/internal/core"

	"github.com/gin-gonic/gin"
)

// StatusReporter exposes the tracker's operational state
type StatusReporter interface {
	Status() core.TrackerStatus
}

// StatusHandler serves the operational surface
type StatusHandler struct {
	tracker StatusReporter
	logger  *slog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(tracker StatusReporter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		tracker: tracker,
		logger:  logger,
	}
}

// GetTrackerStatus returns the live detection state
// GET /v1/tracker/status
func (h *StatusHandler) GetTrackerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.Status())
}
