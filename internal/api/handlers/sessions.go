package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pitmon/internal/core"
	"pitmon/internal/storage"

	"github.com/gin-gonic/gin"
)

// SessionController is the manual control surface of the session tracker
type SessionController interface {
	ForceStart(ctx context.Context, deviceKeys []string) (*core.Session, error)
	ForceEnd(ctx context.Context, sessionID string) (*core.Session, error)
	Rename(ctx context.Context, sessionID, name string) (*core.Session, error)
	AddDevice(ctx context.Context, sessionID, deviceKey string) (*core.Session, error)
	RemoveDevice(ctx context.Context, sessionID, deviceKey string) (*core.Session, error)
	GetSession(sessionID string) (*core.Session, error)
}

// SessionsHandler handles session-related requests
type SessionsHandler struct {
	storage storage.Storage
	tracker SessionController
	logger  *slog.Logger
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(store storage.Storage, tracker SessionController, logger *slog.Logger) *SessionsHandler {
	return &SessionsHandler{
		storage: store,
		tracker: tracker,
		logger:  logger,
	}
}

// ListSessions returns persisted sessions with optional filtering
// GET /v1/sessions?status=&device=&from=&to=
func (h *SessionsHandler) ListSessions(c *gin.Context) {
	filter := storage.SessionFilter{
		Status:    core.SessionStatus(c.Query("status")),
		DeviceKey: c.Query("device"),
	}

	if fromStr := c.Query("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid 'from' timestamp. Use RFC3339",
				"code":  "INVALID_TIMESTAMP",
			})
			return
		}
		filter.From = &from
	}
	if toStr := c.Query("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid 'to' timestamp. Use RFC3339",
				"code":  "INVALID_TIMESTAMP",
			})
			return
		}
		filter.To = &to
	}

	sessions, err := h.storage.ListSessions(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list sessions",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve sessions",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	response := make([]gin.H, 0, len(sessions))
	for _, session := range sessions {
		response = append(response, formatSessionResponse(session))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": response})
}

// GetSession returns a single session. The in-memory tracker is the source of
// truth for live sessions; storage serves history.
// GET /v1/sessions/:id
func (h *SessionsHandler) GetSession(c *gin.Context) {
	id := c.Param("id")

	session, err := h.tracker.GetSession(id)
	if errors.Is(err, core.ErrSessionNotFound) {
		session, err = h.storage.GetSession(c.Request.Context(), id)
	}
	if errors.Is(err, core.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Session not found",
			"code":  "NOT_FOUND",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get session",
			"component", "api",
			"session_id", id,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve session",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, formatSessionResponse(session))
}

type forceStartRequest struct {
	DeviceIDs []string `json:"device_ids" binding:"required,min=1"`
	Name      string   `json:"name"`
}

// CreateSession starts a manual session bypassing the detector
// POST /v1/sessions
func (h *SessionsHandler) CreateSession(c *gin.Context) {
	var req forceStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
			"code":  "INVALID_REQUEST",
		})
		return
	}

	session, err := h.tracker.ForceStart(c.Request.Context(), req.DeviceIDs)
	if err != nil {
		h.respondControlError(c, err)
		return
	}

	if req.Name != "" {
		if renamed, err := h.tracker.Rename(c.Request.Context(), session.ID, req.Name); err == nil {
			session = renamed
		}
	}

	c.JSON(http.StatusCreated, formatSessionResponse(session))
}

// EndSession force-ends a session. Idempotent: a second call returns the same
// terminal state.
// POST /v1/sessions/:id/end
func (h *SessionsHandler) EndSession(c *gin.Context) {
	session, err := h.tracker.ForceEnd(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, formatSessionResponse(session))
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenameSession updates a session's display name
// PATCH /v1/sessions/:id
func (h *SessionsHandler) RenameSession(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
			"code":  "INVALID_REQUEST",
		})
		return
	}

	session, err := h.tracker.Rename(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		h.respondControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, formatSessionResponse(session))
}

type deviceRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

// AddDevice attaches a probe to an active session
// POST /v1/sessions/:id/devices
func (h *SessionsHandler) AddDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
			"code":  "INVALID_REQUEST",
		})
		return
	}

	session, err := h.tracker.AddDevice(c.Request.Context(), c.Param("id"), req.DeviceID)
	if err != nil {
		h.respondControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, formatSessionResponse(session))
}

// RemoveDevice detaches a probe from an active session
// DELETE /v1/sessions/:id/devices/:deviceId
func (h *SessionsHandler) RemoveDevice(c *gin.Context) {
	session, err := h.tracker.RemoveDevice(c.Request.Context(), c.Param("id"), c.Param("deviceId"))
	if err != nil {
		h.respondControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, formatSessionResponse(session))
}

// respondControlError maps lifecycle errors to HTTP results
func (h *SessionsHandler) respondControlError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Session not found",
			"code":  "NOT_FOUND",
		})
	case errors.Is(err, core.ErrDeviceBusy):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
			"code":  "DEVICE_BUSY",
		})
	case errors.Is(err, core.ErrSessionNotActive):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Session is not active",
			"code":  "SESSION_NOT_ACTIVE",
		})
	case errors.Is(err, core.ErrNoDevices),
		errors.Is(err, core.ErrInvalidDeviceKey),
		errors.Is(err, core.ErrInvalidName),
		errors.Is(err, core.ErrDeviceNotInUse):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  "INVALID_REQUEST",
		})
	default:
		h.logger.Error("Session operation failed",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
			"code":  "INTERNAL_ERROR",
		})
	}
}

// formatSessionResponse shapes a session for JSON output
func formatSessionResponse(s *core.Session) gin.H {
	resp := gin.H{
		"id":           s.ID,
		"name":         s.Name,
		"start_time":   s.StartTime.UTC().Format(time.RFC3339),
		"devices_used": s.DevicesUsed,
		"status":       string(s.Status),
		"manual":       s.Manual,
		"sample_count": s.SampleCount,
	}
	if s.SampleCount > 0 {
		resp["max_temperature"] = s.MaxTemp
		resp["min_temperature"] = s.MinTemp
		resp["avg_temperature"] = s.AvgTemp
	}
	if s.EndTime != nil {
		resp["end_time"] = s.EndTime.UTC().Format(time.RFC3339)
	}
	if s.Type != "" {
		resp["session_type"] = string(s.Type)
	}
	if !s.LastReadingAt.IsZero() {
		resp["last_reading_at"] = s.LastReadingAt.UTC().Format(time.RFC3339)
	}
	return resp
}
