// Package health exposes the Kubernetes-style liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/logging"
)

// Pinger is the connectivity check a dependency exposes. *store.Store,
// *bus.Service and *judge.Client all implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints
type Handler struct {
	store Pinger
	bus   Pinger
	judge Pinger
}

// NewHandler creates a new health check handler. Any dependency may be nil;
// nil dependencies are reported healthy so single-instance deployments
// without Redis still pass readiness.
func NewHandler(store, bus, judge Pinger) *Handler {
	return &Handler{
		store: store,
		bus:   bus,
		judge: judge,
	}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"postgres": h.check(ctx, "postgres", h.store),
		"redis":    h.check(ctx, "redis", h.bus),
		"judge":    h.check(ctx, "judge", h.judge),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, result := range checks {
		if result != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// check pings one dependency. The bus service answers its own Ping in
// single-instance mode, so a nil here only occurs in tests and dev wiring.
func (h *Handler) check(ctx context.Context, name string, dep Pinger) string {
	if dep == nil {
		return "healthy"
	}
	if err := dep.Ping(ctx); err != nil {
		logging.Error(ctx, "Dependency health check failed",
			zap.String("dependency", name),
			zap.Error(err),
		)
		return "unhealthy"
	}
	return "healthy"
}
