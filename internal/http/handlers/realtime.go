package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/http/response"
	"github.com/stagehand-app/stagehand-backend/internal/platform/ctxutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/realtime"
	"github.com/stagehand-app/stagehand-backend/internal/services"
)

type RealtimeHandler struct {
	log             *logger.Logger
	hub             *realtime.SSEHub
	pipelineService services.PipelineService
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, pipelineService services.PipelineService) *RealtimeHandler {
	return &RealtimeHandler{
		log:             log.With("handler", "RealtimeHandler"),
		hub:             hub,
		pipelineService: pipelineService,
	}
}

// SSEStream subscribes the caller to one snapshot's pipeline events. The
// first frame is a full status snapshot so a client that reconnects mid-run
// never has to diff missed events.
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	id := ctxutil.GetIdentity(c.Request.Context())
	if id == nil || id.DeviceID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing device identity"))
		return
	}

	snapshotID, err := uuid.Parse(c.Query("snapshot_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("bad snapshot_id: %w", err))
		return
	}

	st, err := h.pipelineService.Status(c.Request.Context(), snapshotID)
	if err != nil {
		if errors.Is(err, services.ErrSnapshotNotFound) {
			response.RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}

	client := h.hub.NewSSEClient(id.DeviceID)
	channel := realtime.SnapshotChannel(snapshotID)
	h.hub.AddChannel(client, channel)
	defer h.hub.CloseClient(client)

	// Catch-up frame. The outbound buffer is empty at this point, but don't
	// block the stream on it either way.
	select {
	case client.Outbound <- realtime.SSEMessage{
		Channel: channel,
		Event:   realtime.SSEEventStatus,
		Data:    st,
	}:
	default:
	}

	h.log.Debug("sse stream open", "client_id", client.ID, "snapshot_id", snapshotID)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
