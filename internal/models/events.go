package models

import "time"

// EventType is the discriminator on every realtime payload.
type EventType string

const (
	EventVoteUpdate        EventType = "vote_update"
	EventChapterTransition EventType = "chapter_transition"
	EventSessionEnded      EventType = "session_ended"
	EventStoryReset        EventType = "story_reset"
	EventBatch             EventType = "batch"
)

// Event is the envelope published to a story instance's realtime channel.
// Payload is one of the *Payload types below, selected by Type.
type Event struct {
	Type       EventType   `json:"type"`
	InstanceID string      `json:"instanceId"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event envelope with the current time.
func NewEvent(t EventType, instanceID string, payload interface{}) Event {
	return Event{
		Type:       t,
		InstanceID: instanceID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// VoteUpdatePayload carries the latest count snapshot for a chapter. Bursty
// vote activity is throttled: within a throttle window, intermediate
// snapshots coalesce into the most recent one.
type VoteUpdatePayload struct {
	ChapterID  string      `json:"chapterId"`
	Counts     []VoteCount `json:"counts"`
	TotalVotes int64       `json:"totalVotes"`
}

// ChapterTransitionPayload announces the story advancing to a new chapter or
// reaching an ending. Sent immediately, never throttled.
type ChapterTransitionPayload struct {
	PreviousChapterID string   `json:"previousChapterId"`
	WinningChoiceID   string   `json:"winningChoiceId"`
	Chapter           *Chapter `json:"chapter,omitempty"`
	Ended             bool     `json:"ended"`
	Ending            *Ending  `json:"ending,omitempty"`
}

// SessionEndedPayload announces a voting session completing.
type SessionEndedPayload struct {
	ChapterID       string      `json:"chapterId"`
	WinningChoiceID string      `json:"winningChoiceId,omitempty"`
	IsTie           bool        `json:"isTie"`
	Counts          []VoteCount `json:"counts"`
}

// StoryResetPayload announces an instance reset.
type StoryResetPayload struct {
	HistoryPreserved bool `json:"historyPreserved"`
}

// BatchPayload groups multiple events into one transport message.
type BatchPayload struct {
	Events []Event `json:"events"`
}
