package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/quickentry-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// UserIDKey is set by handlers once the caller's user id is known.
const UserIDKey = "user_id"

// RequestLogger writes one line per request, at warn for 4xx and error for
// 5xx. Errors attached with c.Error are included.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	log = log.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			fields = append(fields, "trace_id", td.TraceID, "request_id", td.RequestID)
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, "quick_entry_id", id)
		}
		if userID, ok := c.Get(UserIDKey); ok {
			fields = append(fields, "user_id", userID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
