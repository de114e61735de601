package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/judge"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// writeError maps a domain error onto a status code and a {"error": ...}
// body. Unknown errors become 500 with a generic message so internals never
// leak to clients.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrForbidden),
		errors.Is(err, types.ErrWrongPassword):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrInvalidConfig),
		errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrRoomFull),
		errors.Is(err, types.ErrNotReady),
		errors.Is(err, types.ErrTimeLimitExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case judge.IsKind(err, judge.KindUnsupportedLanguage),
		judge.IsKind(err, judge.KindBadSubmission):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case judge.IsKind(err, judge.KindTransport),
		judge.IsKind(err, judge.KindTimeout):
		// Retryable with no state mutation, so it stays a client-range code.
		c.JSON(http.StatusBadRequest, gin.H{"error": "code execution service unavailable"})
	default:
		logging.Error(c.Request.Context(), "Unhandled API error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
