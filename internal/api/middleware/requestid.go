package middleware

import (
	"pitmon/internal/idgen"

	"github.com/gin-gonic/gin"
)

const (
	// RequestIDHeader is the wire header; callers may supply their own ID.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key the rest of the stack reads.
	RequestIDKey = "request_id"
)

// RequestID tags each request with a correlation ID, generating one when the
// caller did not send one, and echoes it back on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = idgen.New()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
