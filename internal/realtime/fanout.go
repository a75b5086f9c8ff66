package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nightfall-server/internal/metrics"
	"nightfall-server/internal/models"
)

const publishTimeout = 5 * time.Second

// Options tunes the fan-out's throttling and batching behavior.
type Options struct {
	ThrottleWindow time.Duration
	ThrottleCap    int
	BatchMaxItems  int
	BatchDelay     time.Duration
	BatchCap       int
}

// Fanout is the realtime boundary used by the voting and progression
// engines. Chapter transitions, session endings and story resets go out
// immediately; vote updates are throttled per (instance, chapter) and
// coalesce to the most recent snapshot. Every event is additionally mirrored
// into a batched digest channel.
//
// Nothing here ever fails the caller: publish errors are counted, logged and
// dropped, because realtime delivery is best-effort and must never block the
// vote or transition path that triggered it.
type Fanout struct {
	publisher Publisher
	throttler *Throttler
	batcher   *Batcher
	logger    *zap.Logger
}

// NewFanout wires a fan-out over the given publisher.
func NewFanout(publisher Publisher, opts Options, logger *zap.Logger) *Fanout {
	f := &Fanout{
		publisher: publisher,
		logger:    logger.Named("Fanout"),
	}
	f.throttler = NewThrottler(opts.ThrottleWindow, opts.ThrottleCap, func(key Key, ev models.Event) {
		f.send(ChannelName(key.InstanceID), ev)
	})
	f.throttler.SetCoalescedHook(func() { metrics.EventsCoalesced.Inc() })
	f.batcher = NewBatcher(opts.BatchMaxItems, opts.BatchDelay, opts.BatchCap, func(channel string, ev models.Event) {
		f.send(channel, ev)
	})
	return f
}

// VoteUpdate publishes a throttled count snapshot for a chapter.
func (f *Fanout) VoteUpdate(instanceID, chapterID string, payload models.VoteUpdatePayload) {
	ev := models.NewEvent(models.EventVoteUpdate, instanceID, payload)
	f.throttler.Trigger(Key{InstanceID: instanceID, ChapterID: chapterID}, ev)
	f.batcher.Add(DigestChannelName(instanceID), ev)
}

// ChapterTransition publishes immediately; transitions are low-frequency and
// state-changing.
func (f *Fanout) ChapterTransition(instanceID string, payload models.ChapterTransitionPayload) {
	f.immediate(models.NewEvent(models.EventChapterTransition, instanceID, payload))
}

// SessionEnded publishes immediately.
func (f *Fanout) SessionEnded(instanceID string, payload models.SessionEndedPayload) {
	f.immediate(models.NewEvent(models.EventSessionEnded, instanceID, payload))
}

// StoryReset publishes immediately.
func (f *Fanout) StoryReset(instanceID string, payload models.StoryResetPayload) {
	f.immediate(models.NewEvent(models.EventStoryReset, instanceID, payload))
}

func (f *Fanout) immediate(ev models.Event) {
	f.send(ChannelName(ev.InstanceID), ev)
	f.batcher.Add(DigestChannelName(ev.InstanceID), ev)
}

func (f *Fanout) send(channel string, ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.publisher.Publish(ctx, channel, ev); err != nil {
		metrics.PublishFailures.Inc()
		f.logger.Warn("Dropping realtime event after publish failure",
			zap.Error(err),
			zap.String("channel", channel),
			zap.String("type", string(ev.Type)),
			zap.String("instanceID", ev.InstanceID))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
}

// Close flushes pending throttled and batched events.
func (f *Fanout) Close() {
	f.throttler.Stop()
	f.batcher.Stop()
}
