package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"catalog-rag/internal/app"
	"catalog-rag/internal/transport/http/response"
)

const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID reuses a caller-supplied X-Request-ID or mints one, echoes it back
// and stores it in both the gin and the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(app.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
