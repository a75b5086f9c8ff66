package models

import "time"

// OutcomeKind classifies how an ending resolves the story.
type OutcomeKind string

const (
	OutcomeDeath     OutcomeKind = "death"
	OutcomeEscape    OutcomeKind = "escape"
	OutcomeMadness   OutcomeKind = "madness"
	OutcomeSurvival  OutcomeKind = "survival"
	OutcomeUnknown   OutcomeKind = "unknown"
	OutcomeExhausted OutcomeKind = "exhausted" // forced ending when the path length guard trips
)

// Choice is a labeled edge out of a Branch. Exactly one of NextBranchID or
// EndingID is set: an edge to another branch, or a terminal.
type Choice struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Description  string `json:"description,omitempty"`
	NextBranchID string `json:"nextBranchId,omitempty"`
	EndingID     string `json:"endingId,omitempty"`
}

// IsTerminal reports whether the choice resolves to an ending.
func (c Choice) IsTerminal() bool {
	return c.EndingID != ""
}

// Branch is a static narrative node in the catalogue. Branches are built once
// at process start and never mutated; they are referenced by ID, never copied.
type Branch struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	BodyText    string   `json:"bodyText"`
	Choices     []Choice `json:"choices"`
	VisualTheme string   `json:"visualTheme"`
}

// Choice returns the branch's choice with the given ID, or nil.
func (b *Branch) Choice(choiceID string) *Choice {
	for i := range b.Choices {
		if b.Choices[i].ID == choiceID {
			return &b.Choices[i]
		}
	}
	return nil
}

// Ending is a terminal narrative node. Reached via a Choice's EndingID or by
// the progression engine's maximum path length guard.
type Ending struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	BodyText         string      `json:"bodyText"`
	OutcomeKind      OutcomeKind `json:"outcomeKind"`
	PathRequirements []string    `json:"pathRequirements,omitempty"`
}

// ChapterStatus tracks the lifecycle of a materialized chapter.
type ChapterStatus string

const (
	ChapterStatusActive     ChapterStatus = "active"
	ChapterStatusSuperseded ChapterStatus = "superseded"
	ChapterStatusEnded      ChapterStatus = "ended"
)

// ChapterSource tags how a chapter's content was produced.
type ChapterSource string

const (
	ChapterSourcePredefined  ChapterSource = "predefined"
	ChapterSourceSynthesized ChapterSource = "synthesized"
)

// ChapterChoice is a choice as presented to voters, carrying its live count.
type ChapterChoice struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
	VoteCount   int64  `json:"voteCount"`
}

// Chapter is the story-instance-specific materialization of a Branch (or a
// synthesized fallback). One chapter is current per instance at any time;
// superseded chapters are kept, never deleted in place.
type Chapter struct {
	ID           string          `json:"id"`
	InstanceID   string          `json:"instanceId"`
	BranchID     string          `json:"branchId,omitempty"`
	Title        string          `json:"title"`
	Content      string          `json:"content"`
	Choices      []ChapterChoice `json:"choices"`
	VisualTheme  string          `json:"visualTheme,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	VotingWindow time.Duration   `json:"votingWindow"`
	PathPosition int             `json:"pathPosition"`
	Status       ChapterStatus   `json:"status"`
	Source       ChapterSource   `json:"source"`
}

// HasChoice reports whether the chapter offers the given choice.
func (c *Chapter) HasChoice(choiceID string) bool {
	for _, ch := range c.Choices {
		if ch.ID == choiceID {
			return true
		}
	}
	return false
}
