// Package ratelimit enforces request and connection rate limits, backed by
// Redis when available and process-local memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bitwar/backend/go/internal/v1/auth"
	"github.com/bitwar/backend/go/internal/v1/config"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Limiter names used for endpoint middleware and metric labels.
const (
	LimiterRooms       = "rooms"
	LimiterSubmissions = "submissions"
)

// RateLimiter holds one limiter per traffic class. API limits key on the
// authenticated user and fall back to client IP; websocket limits key on IP
// at upgrade time and on user after authentication. All classes share one
// store, so every key carries a class prefix to keep the counters separate.
type RateLimiter struct {
	apiGlobal      *limiter.Limiter
	apiPublic      *limiter.Limiter
	apiRooms       *limiter.Limiter
	apiSubmissions *limiter.Limiter
	wsIP           *limiter.Limiter
	wsUser         *limiter.Limiter
	store          limiter.Store
	redisClient    *redis.Client
}

// NewRateLimiter creates a RateLimiter from the configured rate strings.
// With a nil Redis client the limits are process-local, which is fine for a
// single instance and for tests.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}

	apiPublicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}

	apiRoomsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIRooms)
	if err != nil {
		return nil, fmt.Errorf("invalid API rooms rate: %w", err)
	}

	apiSubmissionsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPISubmissions)
	if err != nil {
		return nil, fmt.Errorf("invalid API submissions rate: %w", err)
	}

	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS User rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "Rate limiter using memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		apiGlobal:      limiter.New(store, apiGlobalRate),
		apiPublic:      limiter.New(store, apiPublicRate),
		apiRooms:       limiter.New(store, apiRoomsRate),
		apiSubmissions: limiter.New(store, apiSubmissionsRate),
		wsIP:           limiter.New(store, wsIPRate),
		wsUser:         limiter.New(store, wsUserRate),
		store:          store,
		redisClient:    redisClient,
	}, nil
}

// GlobalMiddleware enforces the baseline API limit: the generous per-user
// rate for authenticated requests, the strict per-IP rate for everyone else.
// It must run after the auth middleware so claims are in the context; a
// request that never authenticated simply gets the IP limit.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var limiterInstance *limiter.Limiter
		var key string
		var limitName string

		if claims, exists := c.Get("claims"); exists {
			userClaims := claims.(*auth.CustomClaims)
			key = "api_user:" + userClaims.Handle()
			limiterInstance = rl.apiGlobal
			limitName = "api_user"
		} else {
			key = "api_ip:" + c.ClientIP()
			limiterInstance = rl.apiPublic
			limitName = "api_ip"
		}

		ctx := c.Request.Context()
		lctx, err := limiterInstance.Get(ctx, key)
		if err != nil {
			// Fail open: losing the limiter store must not take the API down.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(limitName).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(limitName).Inc()
		c.Next()
	}
}

// MiddlewareForEndpoint enforces the tighter per-user limit for a specific
// endpoint class (room mutation, code submission). Unauthenticated requests
// are keyed by IP so the auth middleware rejecting them later is still
// shielded from floods.
func (rl *RateLimiter) MiddlewareForEndpoint(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var limiterInstance *limiter.Limiter
		switch name {
		case LimiterRooms:
			limiterInstance = rl.apiRooms
		case LimiterSubmissions:
			limiterInstance = rl.apiSubmissions
		default:
			limiterInstance = rl.apiGlobal
		}

		// Class-prefixed keys keep this counter independent of the global one.
		var key string
		if claims, exists := c.Get("claims"); exists {
			key = name + ":" + claims.(*auth.CustomClaims).Handle()
		} else {
			key = name + ":" + c.ClientIP()
		}

		ctx := c.Request.Context()
		lctx, err := limiterInstance.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(name).Inc()
			c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(name).Inc()
		c.Next()
	}
}

// CheckWebSocket applies the per-IP connection limit before a websocket
// upgrade. Returns false after writing the 429 response.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipCtx, err := rl.wsIP.Get(ctx, "ws_ip:"+ip)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed (IP)", zap.Error(err))
		return true // Fail open
	}

	if ipCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipCtx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("ws_ip").Inc()
	return true
}

// CheckWebSocketUser applies the per-user connection limit. Called after the
// token is validated, before the socket joins any group.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, username string) error {
	userCtx, err := rl.wsUser.Get(ctx, "ws_user:"+username)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed (user)", zap.Error(err))
		return nil // Fail open
	}

	if userCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_user").Inc()
		return fmt.Errorf("connection rate limit exceeded for user")
	}

	return nil
}

// StandardMiddleware exposes the stock ulule middleware over the public
// limiter for routes that do not need the user/IP split.
func (rl *RateLimiter) StandardMiddleware() gin.HandlerFunc {
	return mgin.NewMiddleware(rl.apiPublic)
}
