package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type IHealthHandler interface {
	Healthz(ctx *gin.Context)
}

type HealthHandler struct {
	checks map[string]Check
}

func NewHealthHandler(checks map[string]Check) IHealthHandler {
	return &HealthHandler{checks: checks}
}

// Healthz returns OK when every registered dependency answers.
func (h *HealthHandler) Healthz(ctx *gin.Context) {
	c, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()
	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(c); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}
