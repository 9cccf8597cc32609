package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request id, accepted from the client when present.
const RequestIDHeader = "X-Request-ID"

// Middleware tags each request with an id and logs it once the handler returns.
func Middleware(l *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		l.LogAPI(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
		for _, e := range c.Errors {
			l.Debug("API", requestID+" "+e.Error())
		}
	}
}
