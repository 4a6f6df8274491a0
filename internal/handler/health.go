package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts clients whose ping does not match Pinger, such as go-redis.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	db     Pinger
	redis  Pinger
	logger *zap.Logger
}

func NewHealthHandler(db, redis Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		redis:  redis,
		logger: logger.Named("HealthHandler"),
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := h.db.Ping(ctx); err != nil {
		dbStatus = "error"
		h.logger.Error("Health check: PostgreSQL ping failed", zap.Error(err))
	}

	redisStatus := "ok"
	if err := h.redis.Ping(ctx); err != nil {
		redisStatus = "error"
		h.logger.Error("Health check: Redis ping failed", zap.Error(err))
	}

	status, body := http.StatusOK, "ok"
	if dbStatus == "error" || redisStatus == "error" {
		status, body = http.StatusServiceUnavailable, "unhealthy"
	}

	c.JSON(status, gin.H{
		"status": body,
		"dependencies": gin.H{
			"database": dbStatus,
			"redis":    redisStatus,
		},
	})
}
