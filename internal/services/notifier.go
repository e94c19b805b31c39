package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/realtime"
	"github.com/stagehand-app/stagehand-backend/internal/realtime/bus"
)

// PipelineNotifier publishes ledger transitions onto the bus, which every
// process forwards into its local SSE hub. Failures are logged and swallowed:
// notifications are hints, clients fall back to the status endpoint.
type PipelineNotifier struct {
	log *logger.Logger
	bus bus.Bus
}

func NewPipelineNotifier(baseLog *logger.Logger, b bus.Bus) *PipelineNotifier {
	return &PipelineNotifier{
		log: baseLog.With("service", "PipelineNotifier"),
		bus: b,
	}
}

func (n *PipelineNotifier) PhaseReady(ctx context.Context, snapshotID uuid.UUID, phase string) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: realtime.SnapshotChannel(snapshotID),
		Event:   realtime.SSEEventPhaseReady,
		Data: map[string]any{
			"snapshot_id": snapshotID,
			"phase":       phase,
		},
	})
}

func (n *PipelineNotifier) PhaseFailed(ctx context.Context, snapshotID uuid.UUID, phase string, terminal bool) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: realtime.SnapshotChannel(snapshotID),
		Event:   realtime.SSEEventPhaseFailed,
		Data: map[string]any{
			"snapshot_id": snapshotID,
			"phase":       phase,
			"terminal":    terminal,
		},
	})
}

func (n *PipelineNotifier) ResultReady(ctx context.Context, snapshotID uuid.UUID, rankingID uuid.UUID) {
	n.publish(ctx, realtime.SSEMessage{
		Channel: realtime.SnapshotChannel(snapshotID),
		Event:   realtime.SSEEventResultReady,
		Data: map[string]any{
			"snapshot_id": snapshotID,
			"ranking_id":  rankingID,
		},
	})
}

func (n *PipelineNotifier) publish(ctx context.Context, msg realtime.SSEMessage) {
	if n.bus == nil {
		return
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("publish failed", "channel", msg.Channel, "event", msg.Event, "error", err)
	}
}
