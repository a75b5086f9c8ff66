package repository

import (
	"context"
	"time"

	"nightfall-server/internal/models"
)

// StoryRepository is the ledger store for chapters, context, progression and
// transition markers. The store is the single source of truth; in-process
// caches over these reads are advisory only.
type StoryRepository interface {
	SaveChapter(ctx context.Context, chapter *models.Chapter) error
	GetChapter(ctx context.Context, instanceID, chapterID string) (*models.Chapter, error)

	GetContext(ctx context.Context, instanceID string) (*models.StoryContext, error)
	SaveContext(ctx context.Context, storyCtx *models.StoryContext) error
	// SwapContext writes the new context only if the stored context still
	// points at expectedChapterID. A losing racer gets ErrTransitionConflict.
	// This write is the externally visible pointer flip of a transition.
	SwapContext(ctx context.Context, storyCtx *models.StoryContext, expectedChapterID string) error

	GetProgression(ctx context.Context, instanceID string) (*models.Progression, error)
	SaveProgression(ctx context.Context, p *models.Progression) error

	// ClaimTransition records the result token of a (chapterID, choiceID)
	// transition exactly once. It returns the stored token and whether this
	// call was the one that claimed it, making retried advances idempotent.
	ClaimTransition(ctx context.Context, instanceID, chapterID, choiceID, result string) (string, bool, error)

	RegisterInstance(ctx context.Context, instanceID string) error
	ListInstances(ctx context.Context) ([]string, error)

	// ClearInstance removes context, progression, transition markers and the
	// listed chapters for an instance. History is handled separately so reset
	// can preserve it.
	ClearInstance(ctx context.Context, instanceID string, chapterIDs []string) error
}

// VoteRepository owns voting sessions, per-user vote records and per-choice
// counts. CastVote is the system's core correctness contract: the duplicate
// check and the increment execute under the store's optimistic lock, so the
// "at most one vote per (user, chapter)" invariant holds across processes
// with zero shared memory.
type VoteRepository interface {
	CreateSession(ctx context.Context, session *models.VotingSession) error
	GetSession(ctx context.Context, instanceID, chapterID string) (*models.VotingSession, error)
	// CompleteSession marks the session completed exactly once. When the
	// session is already completed it returns the stored session and true
	// without recomputing anything.
	CompleteSession(ctx context.Context, instanceID, chapterID, winningChoiceID string) (*models.VotingSession, bool, error)
	// ExtendSession pushes an active session's deadline out. The status check
	// and the write run under the store's optimistic lock so a concurrent
	// completion can never be overwritten back to active; extending a
	// completed session fails with models.ErrSessionNotActive.
	ExtendSession(ctx context.Context, instanceID, chapterID string, until time.Time) error

	// CastVote records the vote and increments the choice's count atomically.
	// A concurrent duplicate loses with models.ErrAlreadyVoted. Returns the
	// choice's new count.
	CastVote(ctx context.Context, instanceID string, vote *models.Vote) (int64, error)
	GetVote(ctx context.Context, instanceID, userID, chapterID string) (*models.Vote, error)
	GetCounts(ctx context.Context, instanceID, chapterID string) (map[string]int64, error)

	ClearChapter(ctx context.Context, instanceID, chapterID string) error
	// ExpireChapter sets a retention TTL on a superseded chapter's voting
	// keys instead of deleting them outright.
	ExpireChapter(ctx context.Context, instanceID, chapterID string, ttl time.Duration) error
}

// HistoryRepository is the append-only transition ledger used for replay and
// statistics.
type HistoryRepository interface {
	// Append adds an entry unless the same (chapterID, winningChoiceID)
	// transition was already recorded. Returns whether the entry was written.
	Append(ctx context.Context, instanceID string, entry *models.HistoryEntry) (bool, error)
	List(ctx context.Context, instanceID string) ([]models.HistoryEntry, error)
	Clear(ctx context.Context, instanceID string) error

	// Completed-path records outlive resets together with history, so replay
	// and statistics can show which endings a community has reached.
	RecordCompletedPath(ctx context.Context, instanceID, endingID string) error
	ListCompletedPaths(ctx context.Context, instanceID string) ([]string, error)
}
