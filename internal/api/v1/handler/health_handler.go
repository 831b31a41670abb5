package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
)

// readinessTimeout bounds one readiness probe
const readinessTimeout = 5 * time.Second

// ReadinessProbe reports whether the service can reach its Checkmk site
type ReadinessProbe func(ctx context.Context) error

// HealthHandler provides health check endpoints
type HealthHandler struct {
	startTime time.Time
	probe     ReadinessProbe
}

// NewHealthHandler creates a new health handler. probe may be nil.
func NewHealthHandler(probe ReadinessProbe) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		probe:     probe,
	}
}

// SetupRoutes registers handler routes to the router
func (h *HealthHandler) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", h.healthCheck)
		api.GET("/readiness", h.readinessCheck)
		api.GET("/liveness", h.livenessCheck)
	}
}

// healthCheck confirms the service is running
func (h *HealthHandler) healthCheck(c *gin.Context) {
	uptime := time.Since(h.startTime).String()

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Service is running",
		"uptime":  uptime,
	})
}

// readinessCheck confirms a Checkmk session can be established
func (h *HealthHandler) readinessCheck(c *gin.Context) {
	if h.probe != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		if err := h.probe(ctx); err != nil {
			status := http.StatusInternalServerError
			if common.IsUnavailable(err) || common.IsContextCanceled(err) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{
				"status":  "not ready",
				"message": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"message": "Service is ready to accept requests",
	})
}

// livenessCheck provides a health endpoint for Kubernetes liveness probe
func (h *HealthHandler) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
