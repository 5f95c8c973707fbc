package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"pitmon/internal/core"

	"github.com/gin-gonic/gin"
)

// ReadingIngestor is the ingestion surface of the session tracker
type ReadingIngestor interface {
	ProcessReading(deviceID, probeID string, temperature float64, unit core.TemperatureUnit, ts time.Time) bool
}

// ReadingsHandler handles temperature reading ingestion
type ReadingsHandler struct {
	tracker ReadingIngestor
	logger  *slog.Logger
}

// NewReadingsHandler creates a new readings handler
func NewReadingsHandler(tracker ReadingIngestor, logger *slog.Logger) *ReadingsHandler {
	return &ReadingsHandler{
		tracker: tracker,
		logger:  logger,
	}
}

type readingRequest struct {
	DeviceID    string    `json:"device_id" binding:"required"`
	ProbeID     string    `json:"probe_id" binding:"required"`
	Temperature float64   `json:"temperature"`
	Unit        string    `json:"unit"`
	Timestamp   time.Time `json:"timestamp" binding:"required"`
}

type ingestRequest struct {
	Readings []readingRequest `json:"readings" binding:"required,min=1"`
}

// IngestReadings accepts a batch of temperature readings. Per-reading
// problems never fail the request; the response only counts how many readings
// entered the state machine.
// POST /v1/readings
func (h *ReadingsHandler) IngestReadings(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
			"code":  "INVALID_REQUEST",
		})
		return
	}

	accepted := 0
	for _, r := range req.Readings {
		unit := core.TemperatureUnit(r.Unit)
		if unit != core.UnitCelsius {
			unit = core.UnitFahrenheit
		}
		if h.tracker.ProcessReading(r.DeviceID, r.ProbeID, r.Temperature, unit, r.Timestamp) {
			accepted++
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": accepted,
		"dropped":  len(req.Readings) - accepted,
	})
}
