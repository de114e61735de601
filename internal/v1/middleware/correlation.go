// Package middleware contains Gin middleware shared by the HTTP and
// WebSocket routes.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bitwar/backend/go/internal/v1/logging"
)

// HeaderXCorrelationID carries the request correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID reuses the caller's X-Correlation-ID or mints one, echoes
// it on the response, and stores it both as a gin key and in the request
// context so the logging helpers pick it up downstream.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}

		c.Header(HeaderXCorrelationID, id)
		c.Set(string(logging.CorrelationIDKey), id)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), logging.CorrelationIDKey, id),
		)

		c.Next()
	}
}
