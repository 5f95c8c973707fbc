package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContentType rejects non-JSON bodies on mutating requests. Bodyless posts
// (like ending a session) pass through untouched.
func ContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		mutating := c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPatch
		if mutating && c.Request.ContentLength > 0 {
			if !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
					"error": "Content-Type must be application/json",
					"code":  "INVALID_CONTENT_TYPE",
				})
				return
			}
		}
		c.Next()
	}
}
