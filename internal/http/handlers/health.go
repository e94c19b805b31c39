package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stagehand-app/stagehand-backend/internal/data/db"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/realtime/bus"
)

type HealthHandler struct {
	log *logger.Logger
	db  *db.PostgresService
	bus bus.Bus
}

func NewHealthHandler(log *logger.Logger, pg *db.PostgresService, b bus.Bus) *HealthHandler {
	return &HealthHandler{
		log: log.With("handler", "HealthHandler"),
		db:  pg,
		bus: b,
	}
}

// HealthCheck pings every backing service this process is wired to and
// reports per-dependency state. Any failing check turns the response 503.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			h.log.Warn("health check: postgres unreachable", "error", err)
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(c.Request.Context()); err != nil {
			h.log.Warn("health check: sse bus unreachable", "error", err)
			checks["bus"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["bus"] = "ok"
		}
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
