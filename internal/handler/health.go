package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Healthz pings every registered dependency.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]bool, len(h.health))
	for name, p := range h.health {
		up := p != nil && p.Healthy(ctx)
		deps[name] = up
		if !up {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"success": status == http.StatusOK, "status": http.StatusText(status), "checks": deps})
}
