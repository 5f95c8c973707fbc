package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Logging emits one structured line per request. The ingestion endpoint is
// hit every few seconds by every device bridge, so it logs at debug to keep
// the info stream readable; everything else logs at info.
func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		attrs := []any{
			"component", "api",
			"request_id", c.GetString(RequestIDKey),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			attrs = append(attrs, "error", errs)
		}

		if c.Request.URL.Path == "/v1/readings" && c.Writer.Status() < 400 {
			logger.Debug("HTTP request", attrs...)
			return
		}
		logger.Info("HTTP request", attrs...)
	}
}
