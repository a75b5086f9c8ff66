package realtime

import (
	"sync"
	"time"

	"nightfall-server/internal/models"
)

// Key identifies one throttled stream: vote updates are throttled per
// (instance, chapter), not globally.
type Key struct {
	InstanceID string
	ChapterID  string
}

type pendingUpdate struct {
	latest models.Event
	timer  *time.Timer
}

// Throttler bounds the rate of vote update events. The first trigger for a
// key arms a window timer; every further trigger inside the window replaces
// the pending snapshot with the newer one. When the timer fires, exactly one
// event carrying the most recent snapshot is emitted, so a burst of N raw
// triggers over a duration D produces at most ceil(D/window) emissions.
//
// The pending map is capped: when a trigger for a new key would exceed the
// capacity, the oldest pending entry is flushed early instead of growing the
// map, so memory stays bounded regardless of distinct-key cardinality.
type Throttler struct {
	window   time.Duration
	capacity int
	emit     func(Key, models.Event)

	mu      sync.Mutex
	pending map[Key]*pendingUpdate
	order   []Key
	stopped bool

	coalesced func() // optional hook for metrics
}

// NewThrottler creates a throttler that calls emit once per key per window.
func NewThrottler(window time.Duration, capacity int, emit func(Key, models.Event)) *Throttler {
	if capacity < 1 {
		capacity = 1
	}
	return &Throttler{
		window:   window,
		capacity: capacity,
		emit:     emit,
		pending:  make(map[Key]*pendingUpdate),
	}
}

// SetCoalescedHook registers a callback invoked whenever a trigger is
// absorbed into an existing pending window.
func (t *Throttler) SetCoalescedHook(fn func()) {
	t.mu.Lock()
	t.coalesced = fn
	t.mu.Unlock()
}

// Trigger records the latest snapshot for key and schedules its emission.
func (t *Throttler) Trigger(key Key, event models.Event) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	if p, ok := t.pending[key]; ok {
		p.latest = event
		hook := t.coalesced
		t.mu.Unlock()
		if hook != nil {
			hook()
		}
		return
	}

	var evicted *pendingUpdate
	var evictedKey Key
	if len(t.pending) >= t.capacity {
		evictedKey = t.order[0]
		t.order = t.order[1:]
		evicted = t.pending[evictedKey]
		delete(t.pending, evictedKey)
		if evicted != nil {
			evicted.timer.Stop()
		}
	}

	p := &pendingUpdate{latest: event}
	p.timer = time.AfterFunc(t.window, func() { t.fire(key) })
	t.pending[key] = p
	t.order = append(t.order, key)
	t.mu.Unlock()

	// Flush the evicted entry early rather than dropping its snapshot.
	if evicted != nil {
		t.emit(evictedKey, evicted.latest)
	}
}

func (t *Throttler) fire(key Key) {
	t.mu.Lock()
	p, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
		t.removeFromOrder(key)
	}
	t.mu.Unlock()
	if ok {
		t.emit(key, p.latest)
	}
}

func (t *Throttler) removeFromOrder(key Key) {
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Pending reports the number of keys currently awaiting emission.
func (t *Throttler) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels all timers and flushes any pending snapshots.
func (t *Throttler) Stop() {
	t.mu.Lock()
	t.stopped = true
	flush := make(map[Key]models.Event, len(t.pending))
	for key, p := range t.pending {
		p.timer.Stop()
		flush[key] = p.latest
	}
	t.pending = make(map[Key]*pendingUpdate)
	t.order = nil
	t.mu.Unlock()

	for key, ev := range flush {
		t.emit(key, ev)
	}
}
