package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// PingFunc probes one dependency; nil probes are skipped.
type PingFunc func(ctx context.Context) error

type HealthHandler struct {
	dbPing    PingFunc
	redisPing PingFunc
}

func NewHealthHandler(dbPing, redisPing PingFunc) *HealthHandler {
	return &HealthHandler{dbPing: dbPing, redisPing: redisPing}
}

// Healthz answers as long as the process is up.
func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz checks the dependencies the api cannot serve without.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if h.dbPing != nil {
		if err := h.dbPing(cctx); err != nil {
			checks["db"] = "down"
			healthy = false
		} else {
			checks["db"] = "up"
		}
	}

	if h.redisPing != nil {
		if err := h.redisPing(cctx); err != nil {
			checks["redis"] = "down"
			healthy = false
		} else {
			checks["redis"] = "up"
		}
	}

	if !healthy {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}
