package mw

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceHeader carries the trace id. X-Request-Id is not used here since
	// devices send it as the report idempotency key.
	TraceHeader = "X-Trace-ID"
	TraceKey    = "trace_id"
)

// Trace propagates or assigns a trace id and echoes it in the response.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TraceHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(TraceKey, id)
		c.Header(TraceHeader, id)
		c.Next()
	}
}
