package api

import (
	"log/slog"

	"pitmon/internal/api/handlers"
	"pitmon/internal/api/middleware"
	"pitmon/internal/core"
	"pitmon/internal/storage"

	"github.com/gin-gonic/gin"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Storage storage.Storage
	Tracker *core.Tracker
	APIKey  string
	Logger  *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.ContentType())

	// Health check (no auth)
	healthHandler := handlers.NewHealthHandler()
	router.GET("/health", healthHandler.GetHealth)

	// API v1 routes (with authentication)
	v1 := router.Group("/v1")
	v1.Use(authMiddleware(config.APIKey))
	{
		// Ingestion endpoint consumed by the upstream reading feed
		readingsHandler := handlers.NewReadingsHandler(config.Tracker, config.Logger)
		v1.POST("/readings", readingsHandler.IngestReadings)

		// Session endpoints: manual control surface and history
		sessionsHandler := handlers.NewSessionsHandler(
			config.Storage,
			config.Tracker,
			config.Logger,
		)
		v1.GET("/sessions", sessionsHandler.ListSessions)
		v1.POST("/sessions", sessionsHandler.CreateSession)
		v1.GET("/sessions/:id", sessionsHandler.GetSession)
		v1.PATCH("/sessions/:id", sessionsHandler.RenameSession)
		v1.POST("/sessions/:id/end", sessionsHandler.EndSession)
		v1.POST("/sessions/:id/devices", sessionsHandler.AddDevice)
		v1.DELETE("/sessions/:id/devices/:deviceId", sessionsHandler.RemoveDevice)

		// Operational surface
		statusHandler := handlers.NewStatusHandler(config.Tracker, config.Logger)
		v1.GET("/tracker/status", statusHandler.GetTrackerStatus)
	}

	return router
}

// authMiddleware verifies API key authentication
func authMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-Pitmon-Key")
		if providedKey != apiKey {
			c.JSON(401, gin.H{
				"error": "Unauthorized",
				"code":  "UNAUTHORIZED",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
