package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the server can still take answers: both
// stores reachable, and how far the autosave worker is behind.
type HealthHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewHealthHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthReport struct {
	Status       string `json:"status"`
	Postgres     string `json:"postgres"`
	Redis        string `json:"redis"`
	QueueAnswers int64  `json:"queue_answers"`
	Goroutines   int    `json:"goroutines"`
	Uptime       string `json:"uptime"`
}

// Health godoc
// GET /api/v1/health
// Answers 200 when both stores respond, 503 otherwise. Not wrapped in the
// response envelope so load balancers can read it directly.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	rep := healthReport{
		Status:     "ok",
		Postgres:   "ok",
		Redis:      "ok",
		Goroutines: runtime.NumGoroutine(),
		Uptime:     formatDuration(time.Since(h.startTime)),
	}

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Postgres ping failed")
		rep.Postgres = "down"
		rep.Status = "degraded"
	}

	n, err := h.rdb.LLen(ctx, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		h.log.Warn().Err(err).Msg("Redis check failed")
		rep.Redis = "down"
		rep.Status = "degraded"
	}
	rep.QueueAnswers = n

	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
