package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/http/response"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/services"
)

type PipelineHandler struct {
	log             *logger.Logger
	pipelineService services.PipelineService
}

func NewPipelineHandler(log *logger.Logger, pipelineService services.PipelineService) *PipelineHandler {
	return &PipelineHandler{
		log:             log.With("handler", "PipelineHandler"),
		pipelineService: pipelineService,
	}
}

// Trigger seeds the pipeline for a snapshot and responds 202 with the
// resulting status. Triggering twice is harmless.
func (h *PipelineHandler) Trigger(c *gin.Context) {
	snapshotID, ok := h.snapshotID(c)
	if !ok {
		return
	}

	st, err := h.pipelineService.Trigger(c.Request.Context(), snapshotID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondAccepted(c, st)
}

func (h *PipelineHandler) Status(c *gin.Context) {
	snapshotID, ok := h.snapshotID(c)
	if !ok {
		return
	}

	st, err := h.pipelineService.Status(c.Request.Context(), snapshotID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, st)
}

// Retry reopens terminally failed phases and kicks the pipeline again.
func (h *PipelineHandler) Retry(c *gin.Context) {
	snapshotID, ok := h.snapshotID(c)
	if !ok {
		return
	}

	reopened, st, err := h.pipelineService.Retry(c.Request.Context(), snapshotID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"reopened": reopened,
		"status":   st,
	})
}

func (h *PipelineHandler) snapshotID(c *gin.Context) (uuid.UUID, bool) {
	snapshotID, err := uuid.Parse(c.Param("snapshotId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return uuid.Nil, false
	}
	return snapshotID, true
}

func (h *PipelineHandler) respondErr(c *gin.Context, err error) {
	if errors.Is(err, services.ErrSnapshotNotFound) {
		response.RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
}
