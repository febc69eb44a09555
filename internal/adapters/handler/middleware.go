package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// AdminAuth guards the operator API with a static bearer token.
// An empty token leaves the API open (local development only).
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		given := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			slog.Warn("Unauthorized operator request",
				"path", c.Request.URL.Path,
				"remote_addr", c.ClientIP(),
			)
			respondError(c, NewErrorResponse(http.StatusUnauthorized, "Unauthorized"))
			return
		}
		c.Next()
	}
}

// RequestLogger tags each request with an id and logs it through slog
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", requestID,
		)
	}
}

// Recovery turns handler panics into a 500 envelope
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("PANIC recovered in HTTP handler",
					"panic", r,
					"path", c.Request.URL.Path,
				)
				respondError(c, InternalErrorResponse("Internal server error"))
			}
		}()
		c.Next()
	}
}
