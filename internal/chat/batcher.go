package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

// FlushInterval is how often accumulated messages are written to storage.
// Real-time delivery does not wait on it; the broadcast already happened at
// send time.
const FlushInterval = 10 * time.Second

// Batcher coalesces chat writes: sends append to an in-memory buffer and a
// timer flushes the buffer as one bulk insert. This trades a small durability
// window (messages lost on crash before flush) for far fewer writes under
// bursty traffic. A failed flush keeps its batch and retries on the next
// tick; it is never surfaced to a sender.
type Batcher struct {
	store    Store
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	buf     []models.ChatMessage
	pending []models.ChatMessage // failed batch awaiting retry, ahead of buf
}

// NewBatcher creates a batcher flushing at the given interval (zero means
// FlushInterval).
func NewBatcher(store Store, interval time.Duration, logger *zap.Logger) *Batcher {
	if interval <= 0 {
		interval = FlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{store: store, logger: logger, interval: interval}
}

// Append queues a message for the next flush. Messages flush in arrival order.
func (b *Batcher) Append(m models.ChatMessage) {
	b.mu.Lock()
	b.buf = append(b.buf, m)
	b.mu.Unlock()
}

// Unflushed returns a copy of the messages not yet durable for a session and
// scope, in arrival order. History queries merge these with stored rows so a
// message is visible immediately after send.
func (b *Batcher) Unflushed(sessionID uuid.UUID, scope models.ChatScope) []models.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.ChatMessage
	for _, list := range [][]models.ChatMessage{b.pending, b.buf} {
		for _, m := range list {
			if m.SessionID == sessionID && m.Scope == scope {
				out = append(out, m)
			}
		}
	}
	return out
}

// Flush swaps the buffer out under the lock and bulk-inserts the swapped
// batch, so appends racing the flush land in the fresh buffer and are never
// lost. On failure the batch is kept for the next tick.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := append(b.pending, b.buf...)
	b.pending = nil
	b.buf = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := b.store.InsertBatch(ctx, batch); err != nil {
		b.mu.Lock()
		b.pending = append(batch, b.pending...)
		b.mu.Unlock()
		b.logger.Warn("chat flush failed, batch kept for retry",
			zap.Int("messages", len(batch)), zap.Error(err))
		return err
	}
	b.logger.Debug("chat batch flushed", zap.Int("messages", len(batch)))
	return nil
}

// Run flushes on a ticker until ctx is done, then performs a final flush so a
// graceful shutdown does not widen the durability window.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = b.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = b.Flush(ctx)
		}
	}
}
