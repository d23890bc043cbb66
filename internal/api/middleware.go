package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestIDMiddleware adds a unique request ID to each request and carries
// it in the request context so upstream calls and log lines share it
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(requestIDHeader, requestID)
		c.Set(requestIDKey, requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithCorrelationID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// LoggingMiddleware writes one structured line per request
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.LogRequest(c.Request.Context(), c.Request.Method, path,
			c.Request.UserAgent(), c.ClientIP(), c.Writer.Status(), time.Since(start))
	}
}

// RecoveryMiddleware turns panics into a 500 envelope
func RecoveryMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.LogError(c.Request.Context(), errors.New(fmt.Sprint(recovered)), "Panic recovered", logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
		InternalErrorResponse(c, "Internal server error")
		c.Abort()
	})
}
