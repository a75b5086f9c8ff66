package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Core counters for the voting and progression pipeline. Registered on the
// default registry and exposed via the gin /metrics endpoint in main.
var (
	VotesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nightfall_votes_accepted_total",
		Help: "Number of votes accepted by the voting engine.",
	})

	VotesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nightfall_votes_rejected_total",
		Help: "Number of votes rejected, by reason.",
	}, []string{"reason"})

	ChapterTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nightfall_chapter_transitions_total",
		Help: "Number of completed chapter transitions.",
	})

	StoriesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nightfall_stories_ended_total",
		Help: "Number of story instances that reached an ending, by outcome.",
	}, []string{"outcome"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nightfall_realtime_events_published_total",
		Help: "Number of realtime events published, by type.",
	}, []string{"type"})

	EventsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nightfall_realtime_events_coalesced_total",
		Help: "Number of vote update events coalesced by the throttler.",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nightfall_realtime_publish_failures_total",
		Help: "Number of realtime publish attempts that failed and were dropped.",
	})
)
