package models

import "time"

// StoryContext is the per-instance mutable cursor. CurrentChapterID always
// resolves to a stored Chapter; PathTaken is append-only except on explicit
// reset. Writing the context is the externally visible "pointer flip" that
// completes a chapter transition.
type StoryContext struct {
	InstanceID       string     `json:"instanceId"`
	CurrentChapterID string     `json:"currentChapterId"`
	PreviousChoices  []string   `json:"previousChoices"`
	PathTaken        []string   `json:"pathTaken"`
	StoryStartTime   time.Time  `json:"storyStartTime"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	EndingID         string     `json:"endingId,omitempty"`
}

// Ended reports whether the instance has reached a terminal state.
func (c *StoryContext) Ended() bool {
	return c.EndedAt != nil
}

// SessionStatus is the voting session lifecycle.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// VotingSession is the open window during which votes may be cast for a
// chapter's choices. It transitions to completed exactly once.
type VotingSession struct {
	InstanceID      string        `json:"instanceId"`
	ChapterID       string        `json:"chapterId"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Status          SessionStatus `json:"status"`
	WinningChoiceID string        `json:"winningChoiceId,omitempty"`
}

// Expired reports whether the session's voting window has lapsed at t.
func (s *VotingSession) Expired(t time.Time) bool {
	return t.After(s.EndTime)
}

// Vote records a single accepted vote. At most one Vote exists per
// (userID, chapterID) pair for the lifetime of the chapter's session.
type Vote struct {
	UserID    string    `json:"userId"`
	ChapterID string    `json:"chapterId"`
	ChoiceID  string    `json:"choiceId"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteCount is an aggregated per-choice tally with a round-half-up
// percentage of the chapter's total.
type VoteCount struct {
	ChoiceID   string `json:"choiceId"`
	Count      int64  `json:"count"`
	Percentage int    `json:"percentage"`
}

// HistoryEntry is one completed transition in the append-only ledger.
type HistoryEntry struct {
	ChapterID       string    `json:"chapterId"`
	WinningChoiceID string    `json:"winningChoiceId"`
	Timestamp       time.Time `json:"timestamp"`
}

// Progression is the per-instance derived summary. It is recomputed on every
// transition and is purely observational; CurrentChapterID in StoryContext
// remains the source of truth for position.
type Progression struct {
	InstanceID         string   `json:"instanceId"`
	TotalChapters      int      `json:"totalChapters"`
	CurrentPosition    int      `json:"currentPosition"`
	CompletedPaths     []string `json:"completedPaths"`
	AvailablePaths     []string `json:"availablePaths"`
	ProgressPercentage int      `json:"progressPercentage"`
}

// InstanceState is the progression engine's per-instance state machine.
type InstanceState string

const (
	StateAwaitingVotes InstanceState = "awaiting_votes"
	StateDetermining   InstanceState = "determining"
	StateTransitioning InstanceState = "transitioning"
	StateEnded         InstanceState = "ended"
)

// CastVoteResult is returned to the caller of CastVote. Rejections are
// results, not errors: a duplicate vote or an inactive session is reported
// via Accepted=false with a short human-readable reason.
type CastVoteResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	ChoiceID string `json:"choiceId,omitempty"`
	NewCount int64  `json:"newCount,omitempty"`
}

// WinnerResult is the outcome of winner determination for a chapter.
// A nil winner (empty ChoiceID) means zero votes were cast and the caller
// must not advance.
type WinnerResult struct {
	ChoiceID string `json:"choiceId,omitempty"`
	IsTie    bool   `json:"isTie"`
}

// SessionResult is the idempotent outcome of ending a voting session.
type SessionResult struct {
	ChapterID        string      `json:"chapterId"`
	WinningChoiceID  string      `json:"winningChoiceId,omitempty"`
	IsTie            bool        `json:"isTie"`
	Counts           []VoteCount `json:"counts"`
	TotalVotes       int64       `json:"totalVotes"`
	AlreadyCompleted bool        `json:"alreadyCompleted"`
}

// AdvanceResult is the outcome of a chapter transition.
type AdvanceResult struct {
	NewChapter *Chapter `json:"newChapter,omitempty"`
	Ended      bool     `json:"ended"`
	Ending     *Ending  `json:"ending,omitempty"`
}

// StoryStats is a read-only roll-up served to clients.
type StoryStats struct {
	InstanceID    string         `json:"instanceId"`
	ChaptersSeen  int            `json:"chaptersSeen"`
	PathTaken     []string       `json:"pathTaken"`
	Progress      int            `json:"progress"`
	Ended         bool           `json:"ended"`
	History       []HistoryEntry `json:"history"`
	StoryDuration time.Duration  `json:"storyDuration"`
}
