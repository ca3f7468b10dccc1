package game

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plaza/server/internal/protocol"
)

// Batcher coalesces high-frequency movement messages per destination
// connection and flushes them on a shared fixed tick. A queue holding a
// single message flushes as that message; multiple accumulate into one
// batch envelope preserving arrival order. The tick timer stops itself when
// nothing is pending and restarts lazily on the next enqueue, so an idle
// server takes no wakeups.
//
// Non-movement messages never pass through here; the World sends those
// immediately.
type Batcher struct {
	mu      sync.Mutex
	tick    time.Duration
	queues  map[PlayerConnection][]protocol.Message
	timer   *time.Timer
	log     *zap.SugaredLogger
	metrics *Metrics
}

// NewBatcher creates a batcher flushing on the given tick.
func NewBatcher(tick time.Duration, metrics *Metrics, log *zap.SugaredLogger) *Batcher {
	return &Batcher{
		tick:    tick,
		queues:  make(map[PlayerConnection][]protocol.Message),
		metrics: metrics,
		log:     log,
	}
}

// Enqueue appends a message to the destination's pending queue, arming the
// flush timer if it is not already running.
func (b *Batcher) Enqueue(dest PlayerConnection, msg protocol.Message) {
	b.mu.Lock()
	b.queues[dest] = append(b.queues[dest], msg)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.tick, b.onTick)
	}
	b.mu.Unlock()
}

// Drop discards any pending messages for a departed connection.
func (b *Batcher) Drop(dest PlayerConnection) {
	b.mu.Lock()
	delete(b.queues, dest)
	b.mu.Unlock()
}

func (b *Batcher) onTick() {
	b.Flush()
}

// Flush writes out every non-empty queue now. Exposed so shutdown and tests
// can force a tick.
func (b *Batcher) Flush() {
	b.mu.Lock()
	pending := b.queues
	b.queues = make(map[PlayerConnection][]protocol.Message)
	// Timer is one-shot; it re-arms on the next enqueue.
	b.timer = nil
	b.mu.Unlock()

	for dest, msgs := range pending {
		data, err := b.encode(msgs)
		if err != nil {
			b.log.Errorw("encode batch", "error", err)
			continue
		}
		// Fire-and-forget: a closed or stalled peer is skipped this tick,
		// connection cleanup handles the rest.
		if err := dest.Send(data); err != nil {
			b.log.Debugw("skip flush to closed peer", "addr", dest.RemoteAddr())
			continue
		}
		b.metrics.BatchesFlushed.Add(1)
		b.metrics.MessagesBatched.Add(int64(len(msgs)))
	}
}

func (b *Batcher) encode(msgs []protocol.Message) ([]byte, error) {
	if len(msgs) == 1 {
		return json.Marshal(msgs[0])
	}
	return protocol.Encode(protocol.MsgBatch, protocol.BatchPayload{Updates: msgs})
}
