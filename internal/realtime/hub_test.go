package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubOrderingAndReconnect(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	channel := SnapshotChannel(uuid.New())

	clientA := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientA, channel)

	first := SSEMessage{Channel: channel, Event: SSEEventPhaseReady, Data: map[string]any{"phase": "strategist"}}
	second := SSEMessage{Channel: channel, Event: SSEEventPhaseReady, Data: map[string]any{"phase": "briefer"}}
	hub.Broadcast(first)
	hub.Broadcast(second)

	gotFirst := recvMessage(t, clientA.Outbound, time.Second)
	gotSecond := recvMessage(t, clientA.Outbound, time.Second)
	if gotFirst.Data.(map[string]any)["phase"] != "strategist" {
		t.Fatalf("first message out of order: %+v", gotFirst)
	}
	if gotSecond.Data.(map[string]any)["phase"] != "briefer" {
		t.Fatalf("second message out of order: %+v", gotSecond)
	}

	hub.CloseClient(clientA)
	select {
	case _, ok := <-clientA.Outbound:
		if ok {
			t.Fatalf("outbound should be closed after disconnect")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for channel close")
	}

	clientB := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientB, channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventResultReady})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != SSEEventResultReady {
		t.Fatalf("reconnect event: want=%s got=%s", SSEEventResultReady, got.Event)
	}
}

func TestSSEHubChannelIsolation(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	chanA := SnapshotChannel(uuid.New())
	chanB := SnapshotChannel(uuid.New())

	clientA := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientA, chanA)
	clientB := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientB, chanB)

	hub.Broadcast(SSEMessage{Channel: chanA, Event: SSEEventPhaseFailed})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != SSEEventPhaseFailed {
		t.Fatalf("subscriber missed its channel: %+v", got)
	}
	select {
	case msg := <-clientB.Outbound:
		t.Fatalf("clientB got a message for another snapshot: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSSEHubDeliversDuplicates(t *testing.T) {
	// At-least-once: the bus may redeliver and the hub must not dedupe, the
	// ledger is where clients resolve truth.
	hub := NewSSEHub(mustTestLogger(t))
	channel := SnapshotChannel(uuid.New())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, channel)

	dup := SSEMessage{Channel: channel, Event: SSEEventPhaseReady, Data: map[string]any{"phase": "planner"}}
	hub.Broadcast(dup)
	hub.Broadcast(dup)

	one := recvMessage(t, client.Outbound, time.Second)
	two := recvMessage(t, client.Outbound, time.Second)
	if one.Event != SSEEventPhaseReady || two.Event != SSEEventPhaseReady {
		t.Fatalf("expected both duplicate deliveries, got %s and %s", one.Event, two.Event)
	}
}

func TestSSEHubDropsWhenBufferFull(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	channel := SnapshotChannel(uuid.New())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, channel)

	for i := 0; i < cap(client.Outbound)+5; i++ {
		hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventPhaseReady, Data: map[string]any{"seq": i}})
	}
	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("expected a full buffer with overflow dropped, got %d", got)
	}
}
