package realtime

import (
	"github.com/google/uuid"
)

// SSEClient is one open event stream. The hub owns the lifecycle; handlers
// only push the catch-up frame and hand the client to ServeHTTP.
type SSEClient struct {
	ID       uuid.UUID
	DeviceID uuid.UUID
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
}
