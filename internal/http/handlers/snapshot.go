package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/http/response"
	"github.com/stagehand-app/stagehand-backend/internal/platform/ctxutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/services"
)

type SnapshotHandler struct {
	log             *logger.Logger
	snapshotService services.SnapshotService
	pipelineService services.PipelineService
}

func NewSnapshotHandler(log *logger.Logger, snapshotService services.SnapshotService, pipelineService services.PipelineService) *SnapshotHandler {
	return &SnapshotHandler{
		log:             log.With("handler", "SnapshotHandler"),
		snapshotService: snapshotService,
		pipelineService: pipelineService,
	}
}

// Ingest records a context snapshot for the calling device. With "run": true
// the pipeline is seeded in the same request and the response carries the
// initial status alongside the snapshot.
func (h *SnapshotHandler) Ingest(c *gin.Context) {
	id := ctxutil.GetIdentity(c.Request.Context())
	if id == nil || id.DeviceID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing device identity"))
		return
	}

	var req struct {
		services.SnapshotInput
		Run bool `json:"run"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	snap, err := h.snapshotService.Ingest(c.Request.Context(), id.DeviceID, &req.SnapshotInput)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_snapshot", err)
		return
	}

	payload := gin.H{"snapshot": snap}
	if req.Run {
		st, err := h.pipelineService.Trigger(c.Request.Context(), snap.ID)
		if err != nil {
			// The snapshot is durable either way, so report it with the
			// trigger failure rather than pretending the ingest failed.
			h.log.Warn("pipeline trigger on ingest failed", "snapshot_id", snap.ID, "error", err)
		} else {
			payload["status"] = st
		}
	}
	response.RespondCreated(c, payload)
}

func (h *SnapshotHandler) Get(c *gin.Context) {
	snapshotID, err := uuid.Parse(c.Param("snapshotId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	snap, err := h.snapshotService.Get(c.Request.Context(), snapshotID)
	if err != nil {
		if errors.Is(err, services.ErrSnapshotNotFound) {
			response.RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshot": snap})
}

// List returns the calling device's snapshots, newest first.
func (h *SnapshotHandler) List(c *gin.Context) {
	id := ctxutil.GetIdentity(c.Request.Context())
	if id == nil || id.DeviceID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing device identity"))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("bad limit %q", raw))
			return
		}
		limit = n
	}

	snaps, err := h.snapshotService.ListForDevice(c.Request.Context(), id.DeviceID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	response.RespondOK(c, gin.H{"snapshots": snaps})
}

// Ranking returns the finished recommendation for a snapshot, 404 until the
// pipeline has produced one.
func (h *SnapshotHandler) Ranking(c *gin.Context) {
	snapshotID, err := uuid.Parse(c.Param("snapshotId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	view, err := h.pipelineService.Ranking(c.Request.Context(), snapshotID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSnapshotNotFound):
			response.RespondError(c, http.StatusNotFound, "not_found", err)
		case errors.Is(err, services.ErrRankingNotReady):
			response.RespondError(c, http.StatusNotFound, "ranking_not_ready", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}
	response.RespondOK(c, gin.H{"ranking": view})
}
