package http

import (
	"net/http"
	"time"

	"playloop/internal/core/ports"
	"playloop/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthHandler struct {
	checker  *monitoring.HealthChecker
	sessions ports.SessionService
	gatherer prometheus.Gatherer
}

func NewHealthHandler(checker *monitoring.HealthChecker, sessions ports.SessionService, gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{
		checker:  checker,
		sessions: sessions,
		gatherer: gatherer,
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health reports liveness and the number of active sessions.
func (h *HealthHandler) Health(c *gin.Context) {
	active, err := h.sessions.ActiveSessions(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          monitoring.StatusHealthy,
		"timestamp":       time.Now().Unix(),
		"active_sessions": active,
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
