package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"virtual-office/internal/auth"
	"virtual-office/internal/httpapi"
	"virtual-office/pkg/metrics"
	"virtual-office/pkg/utils"
)

type health struct {
	db  *sql.DB
	rdb *redis.Client
}

// check pings both backends. Redis only backs the stats cache and the sweep
// lease, so its failure degrades rather than fails the check.
func (h health) check(ctx context.Context) (int, gin.H) {
	body := gin.H{"status": "ok", "postgres": "ok", "redis": "ok"}
	code := http.StatusOK
	if err := utils.HealthCheck(ctx, h.db, 2*time.Second); err != nil {
		body["postgres"] = "down"
		body["status"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		body["redis"] = "down"
		if code == http.StatusOK {
			body["status"] = "degraded"
		}
	}
	return code, body
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, am *auth.Manager, m *metrics.Metrics, hc health) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(hc.check(c.Request.Context()))
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	httpapi.Register(r, h, auth.RequireAccessToken(am))
}
