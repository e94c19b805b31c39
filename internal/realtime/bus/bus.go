package bus

import (
	"context"

	"github.com/stagehand-app/stagehand-backend/internal/realtime"
)

// Bus carries SSE messages between processes. Delivery is at-least-once with
// no replay; the ledger stays the source of truth.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Ping(ctx context.Context) error
	Close() error
}
