package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// ClaimsKey is the gin context key holding the authenticated claims. The
// rate limiter reads the same key to pick per-user limits.
const ClaimsKey = "claims"

// RequireAuth validates the Authorization bearer token and stores the
// resulting claims on the request context. Requests without a valid
// token are rejected with 401.
func RequireAuth(validator types.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be 'Bearer <token>'"})
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil {
			logging.Warn(c.Request.Context(), "Rejected bearer token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(string(logging.UserIDKey), claims.Handle())
		c.Next()
	}
}

// Username returns the authenticated username for the request,
// or "" when RequireAuth did not run.
func Username(c *gin.Context) string {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return ""
	}
	claims, ok := v.(*auth.CustomClaims)
	if !ok {
		return ""
	}
	return claims.Handle()
}
