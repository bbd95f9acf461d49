package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"krishi/internal/logging"
	"krishi/internal/utils/id"
)

const logIDHeader = "X-Log-ID"

// requestLog tags each request with a log id, exposes it to the client and
// logs one line when the handler returns.
func requestLog(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logID := strings.TrimSpace(c.GetHeader(logIDHeader))
		if logID == "" {
			logID = id.NewLogID()
		}
		c.Request = c.Request.WithContext(id.WithLogID(c.Request.Context(), logID))
		c.Header(logIDHeader, logID)

		start := time.Now()
		c.Next()

		reqLogger := logging.FromContext(c.Request.Context(), logger)
		status := c.Writer.Status()
		line := fmt.Sprintf("%s %s %d %s", c.Request.Method, c.FullPath(), status, time.Since(start).Round(time.Millisecond))
		switch {
		case status >= http.StatusInternalServerError:
			reqLogger.Warn("%s: %s", line, c.Errors.String())
		case len(c.Errors) > 0:
			reqLogger.Info("%s: %s", line, c.Errors.String())
		default:
			reqLogger.Debug("%s", line)
		}
	}
}

// recovery turns a handler panic into a 500 envelope.
func recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.FromContext(c.Request.Context(), logger).Error("panic serving %s: %v, stack: %s", c.Request.URL.Path, r, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
					Error:     "Something went wrong. Please try again.",
					ErrorKind: "unknown",
				})
			}
		}()
		c.Next()
	}
}
