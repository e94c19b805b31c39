package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/stagehand-app/stagehand-backend/internal/realtime"
)

// localBus is the single-process fallback used when REDIS_ADDR is unset:
// Publish hands the message straight to the forwarder callback. Streams only
// see events produced by this process, which is exactly the deployment shape
// that has no redis.
type localBus struct {
	mu    sync.RWMutex
	onMsg func(m realtime.SSEMessage)
}

func NewLocalBus() Bus {
	return &localBus{}
}

func (b *localBus) Publish(_ context.Context, msg realtime.SSEMessage) error {
	b.mu.RLock()
	onMsg := b.onMsg
	b.mu.RUnlock()
	if onMsg != nil {
		onMsg(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(_ context.Context, onMsg func(m realtime.SSEMessage)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	b.onMsg = onMsg
	b.mu.Unlock()
	return nil
}

func (b *localBus) Ping(_ context.Context) error { return nil }

func (b *localBus) Close() error { return nil }
