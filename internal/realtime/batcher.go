package realtime

import (
	"sync"
	"time"

	"nightfall-server/internal/models"
)

type batch struct {
	instanceID string
	events     []models.Event
	timer      *time.Timer
}

// Batcher accumulates events per channel and flushes them as a single
// batched message once a configured item count is reached or a delay
// elapses, whichever comes first. Like the throttler, its pending map is
// capped: a new channel arriving at capacity flushes the oldest pending
// batch early.
type Batcher struct {
	maxItems int
	delay    time.Duration
	capacity int
	emit     func(channel string, event models.Event)

	mu      sync.Mutex
	pending map[string]*batch
	order   []string
	stopped bool
}

// NewBatcher creates a batcher flushing at maxItems events or after delay.
func NewBatcher(maxItems int, delay time.Duration, capacity int, emit func(string, models.Event)) *Batcher {
	if maxItems < 1 {
		maxItems = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Batcher{
		maxItems: maxItems,
		delay:    delay,
		capacity: capacity,
		emit:     emit,
		pending:  make(map[string]*batch),
	}
}

// Add queues an event for the channel's next batch.
func (b *Batcher) Add(channel string, event models.Event) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}

	cur, ok := b.pending[channel]
	if !ok {
		var evictedChannel string
		var evicted *batch
		if len(b.pending) >= b.capacity {
			evictedChannel = b.order[0]
			b.order = b.order[1:]
			evicted = b.pending[evictedChannel]
			delete(b.pending, evictedChannel)
			if evicted != nil {
				evicted.timer.Stop()
			}
		}
		cur = &batch{instanceID: event.InstanceID}
		cur.timer = time.AfterFunc(b.delay, func() { b.flushChannel(channel) })
		b.pending[channel] = cur
		b.order = append(b.order, channel)
		cur.events = append(cur.events, event)
		b.mu.Unlock()
		if evicted != nil {
			b.emit(evictedChannel, batchEvent(evicted))
		}
		return
	}

	cur.events = append(cur.events, event)
	if len(cur.events) >= b.maxItems {
		cur.timer.Stop()
		delete(b.pending, channel)
		b.removeFromOrder(channel)
		b.mu.Unlock()
		b.emit(channel, batchEvent(cur))
		return
	}
	b.mu.Unlock()
}

func (b *Batcher) flushChannel(channel string) {
	b.mu.Lock()
	cur, ok := b.pending[channel]
	if ok {
		delete(b.pending, channel)
		b.removeFromOrder(channel)
	}
	b.mu.Unlock()
	if ok && len(cur.events) > 0 {
		b.emit(channel, batchEvent(cur))
	}
}

func (b *Batcher) removeFromOrder(channel string) {
	for i, c := range b.order {
		if c == channel {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

// Stop flushes everything still pending and rejects further adds.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	flush := make(map[string]*batch, len(b.pending))
	for channel, cur := range b.pending {
		cur.timer.Stop()
		flush[channel] = cur
	}
	b.pending = make(map[string]*batch)
	b.order = nil
	b.mu.Unlock()

	for channel, cur := range flush {
		if len(cur.events) > 0 {
			b.emit(channel, batchEvent(cur))
		}
	}
}

func batchEvent(cur *batch) models.Event {
	return models.NewEvent(models.EventBatch, cur.instanceID, models.BatchPayload{Events: cur.events})
}
