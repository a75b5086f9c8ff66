package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"nightfall-server/internal/metrics"
	"nightfall-server/internal/models"
	"nightfall-server/internal/realtime"
	"nightfall-server/internal/repository"
)

// VotingConfig tunes the voting engine.
type VotingConfig struct {
	// CacheTTL bounds the staleness of cached count and session reads.
	CacheTTL time.Duration
	// CacheEntries caps the advisory cache size.
	CacheEntries int
	// TieBreakSeed seeds the tie-break RNG. Zero means seed from the clock;
	// tests pass a fixed seed for reproducible tie resolution.
	TieBreakSeed int64
}

// VotingService is the voting engine: vote casting with exactly-once-per-user
// semantics, count aggregation, and session lifecycle.
type VotingService struct {
	votes  repository.VoteRepository
	story  repository.StoryRepository
	fanout *realtime.Fanout
	cache  *advisoryCache
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time
}

// NewVotingService creates a voting engine.
func NewVotingService(
	votes repository.VoteRepository,
	story repository.StoryRepository,
	fanout *realtime.Fanout,
	cfg VotingConfig,
	logger *zap.Logger,
) *VotingService {
	seed := cfg.TieBreakSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	entries := cfg.CacheEntries
	if entries <= 0 {
		entries = 1024
	}
	return &VotingService{
		votes:  votes,
		story:  story,
		fanout: fanout,
		cache:  newAdvisoryCache(ttl, entries),
		logger: logger.Named("VotingService"),
		rng:    rand.New(rand.NewSource(seed)),
		now:    time.Now,
	}
}

// CastVote records one vote for a user on a chapter's choice. The duplicate
// check and the count increment are atomic in the store, so under concurrent
// callers for the same (userID, chapterID) exactly one call reports
// Accepted=true. Rejections (duplicate, inactive session, unknown choice,
// missing identity) come back as results, never as errors; only transient
// store faults surface as errors.
func (s *VotingService) CastVote(ctx context.Context, instanceID, userID, chapterID, choiceID string) (*models.CastVoteResult, error) {
	if instanceID == "" || chapterID == "" || choiceID == "" {
		return nil, fmt.Errorf("%w: instance, chapter and choice are required", models.ErrInvalidInput)
	}
	if userID == "" {
		metrics.VotesRejected.WithLabelValues(models.RejectionReason(models.ErrUnauthenticated)).Inc()
		return &models.CastVoteResult{Accepted: false, Reason: models.RejectionReason(models.ErrUnauthenticated)}, nil
	}

	// Session activity and choice membership checks may use cached reads;
	// the authoritative duplicate check lives in the store write below.
	session, err := s.cachedSession(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive || session.Expired(s.now()) {
		metrics.VotesRejected.WithLabelValues(models.RejectionReason(models.ErrSessionNotActive)).Inc()
		return &models.CastVoteResult{Accepted: false, Reason: models.RejectionReason(models.ErrSessionNotActive)}, nil
	}

	chapter, err := s.cachedChapter(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	if !chapter.HasChoice(choiceID) {
		metrics.VotesRejected.WithLabelValues(models.RejectionReason(models.ErrUnknownChoice)).Inc()
		return &models.CastVoteResult{Accepted: false, Reason: models.RejectionReason(models.ErrUnknownChoice)}, nil
	}

	vote := &models.Vote{
		UserID:    userID,
		ChapterID: chapterID,
		ChoiceID:  choiceID,
		Timestamp: s.now().UTC(),
	}
	newCount, err := s.votes.CastVote(ctx, instanceID, vote)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyVoted) {
			metrics.VotesRejected.WithLabelValues(models.RejectionReason(models.ErrAlreadyVoted)).Inc()
			return &models.CastVoteResult{Accepted: false, Reason: models.RejectionReason(models.ErrAlreadyVoted)}, nil
		}
		return nil, err
	}

	metrics.VotesAccepted.Inc()
	s.cache.invalidate(countsCacheKey(instanceID, chapterID))
	s.logger.Debug("Vote accepted",
		zap.String("instanceID", instanceID),
		zap.String("chapterID", chapterID),
		zap.String("choiceID", choiceID),
		zap.Int64("newCount", newCount))

	s.notifyVoteUpdate(ctx, instanceID, chapter)

	return &models.CastVoteResult{Accepted: true, ChoiceID: choiceID, NewCount: newCount}, nil
}

// GetVoteCounts returns the per-choice tallies with round-half-up
// percentages. The read path may serve a snapshot up to CacheTTL stale to
// protect the store from bursty polling; every accepted vote invalidates the
// local snapshot.
func (s *VotingService) GetVoteCounts(ctx context.Context, instanceID, chapterID string) ([]models.VoteCount, error) {
	key := countsCacheKey(instanceID, chapterID)
	if cached, ok := s.cache.get(key); ok {
		return cached.([]models.VoteCount), nil
	}

	chapter, err := s.cachedChapter(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	raw, err := s.votes.GetCounts(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	counts, _ := buildVoteCounts(chapter, raw)
	s.cache.set(key, counts)
	return counts, nil
}

// HasVoted reports whether the user already voted on the chapter and for
// which choice.
func (s *VotingService) HasVoted(ctx context.Context, instanceID, userID, chapterID string) (bool, string, error) {
	if userID == "" {
		return false, "", nil
	}
	vote, err := s.votes.GetVote(ctx, instanceID, userID, chapterID)
	if errors.Is(err, models.ErrNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, vote.ChoiceID, nil
}

// EndSession completes the chapter's voting session exactly once and returns
// the winner and final stats. Ending an already completed session returns
// its prior result without recomputation. A session with zero votes is left
// active and the result carries no winner.
func (s *VotingService) EndSession(ctx context.Context, instanceID, chapterID string) (*models.SessionResult, error) {
	chapter, err := s.cachedChapter(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	raw, err := s.votes.GetCounts(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	counts, total := buildVoteCounts(chapter, raw)

	if total == 0 {
		session, err := s.votes.GetSession(ctx, instanceID, chapterID)
		if err != nil {
			return nil, err
		}
		if session.Status == models.SessionCompleted {
			return &models.SessionResult{
				ChapterID:        chapterID,
				WinningChoiceID:  session.WinningChoiceID,
				Counts:           counts,
				AlreadyCompleted: true,
			}, nil
		}
		// A session nobody voted on stays open. Completing it would store an
		// empty winner, and a winnerless completed session can never advance.
		return &models.SessionResult{ChapterID: chapterID, Counts: counts}, nil
	}

	winner := s.PickWinner(counts)

	session, alreadyCompleted, err := s.votes.CompleteSession(ctx, instanceID, chapterID, winner.ChoiceID)
	if err != nil {
		return nil, err
	}
	if alreadyCompleted {
		// A prior call won; its stored winner is the result, idempotently.
		return &models.SessionResult{
			ChapterID:        chapterID,
			WinningChoiceID:  session.WinningChoiceID,
			Counts:           counts,
			TotalVotes:       total,
			AlreadyCompleted: true,
		}, nil
	}

	s.cache.invalidate(sessionCacheKey(instanceID, chapterID))
	s.fanout.SessionEnded(instanceID, models.SessionEndedPayload{
		ChapterID:       chapterID,
		WinningChoiceID: winner.ChoiceID,
		IsTie:           winner.IsTie,
		Counts:          counts,
	})
	s.logger.Info("Voting session completed",
		zap.String("instanceID", instanceID),
		zap.String("chapterID", chapterID),
		zap.String("winningChoiceID", winner.ChoiceID),
		zap.Bool("isTie", winner.IsTie),
		zap.Int64("totalVotes", total))

	return &models.SessionResult{
		ChapterID:       chapterID,
		WinningChoiceID: winner.ChoiceID,
		IsTie:           winner.IsTie,
		Counts:          counts,
		TotalVotes:      total,
	}, nil
}

// PickWinner applies the ranking and tie-break policy to a count snapshot.
// Shared with the progression engine so both sides resolve ties identically.
func (s *VotingService) PickWinner(counts []models.VoteCount) models.WinnerResult {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return pickWinner(counts, s.rng)
}

// ExtendSession pushes an active session's window out to a new deadline.
// The scheduled resolver uses this when a window lapses with zero votes,
// since a chapter with no votes must not advance.
func (s *VotingService) ExtendSession(ctx context.Context, instanceID, chapterID string, until time.Time) error {
	if err := s.votes.ExtendSession(ctx, instanceID, chapterID, until); err != nil {
		return err
	}
	s.cache.invalidate(sessionCacheKey(instanceID, chapterID))
	return nil
}

// GetSession returns the authoritative voting session for a chapter.
func (s *VotingService) GetSession(ctx context.Context, instanceID, chapterID string) (*models.VotingSession, error) {
	return s.votes.GetSession(ctx, instanceID, chapterID)
}

func (s *VotingService) notifyVoteUpdate(ctx context.Context, instanceID string, chapter *models.Chapter) {
	raw, err := s.votes.GetCounts(ctx, instanceID, chapter.ID)
	if err != nil {
		// Best-effort: the next accepted vote or poll will carry the counts.
		s.logger.Warn("Skipping vote update snapshot", zap.Error(err),
			zap.String("instanceID", instanceID), zap.String("chapterID", chapter.ID))
		return
	}
	counts, total := buildVoteCounts(chapter, raw)
	s.fanout.VoteUpdate(instanceID, chapter.ID, models.VoteUpdatePayload{
		ChapterID:  chapter.ID,
		Counts:     counts,
		TotalVotes: total,
	})
}

// cachedSession reads a session through the advisory cache. Advisory only:
// never used for the duplicate-vote check.
func (s *VotingService) cachedSession(ctx context.Context, instanceID, chapterID string) (*models.VotingSession, error) {
	key := sessionCacheKey(instanceID, chapterID)
	if cached, ok := s.cache.get(key); ok {
		return cached.(*models.VotingSession), nil
	}
	session, err := s.votes.GetSession(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	s.cache.set(key, session)
	return session, nil
}

// cachedChapter reads a chapter through the advisory cache. Chapters are
// immutable apart from their status flag, so caching is safe.
func (s *VotingService) cachedChapter(ctx context.Context, instanceID, chapterID string) (*models.Chapter, error) {
	key := chapterCacheKey(instanceID, chapterID)
	if cached, ok := s.cache.get(key); ok {
		return cached.(*models.Chapter), nil
	}
	chapter, err := s.story.GetChapter(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	s.cache.set(key, chapter)
	return chapter, nil
}

func countsCacheKey(instanceID, chapterID string) string {
	return "counts:" + instanceID + ":" + chapterID
}

func sessionCacheKey(instanceID, chapterID string) string {
	return "session:" + instanceID + ":" + chapterID
}

func chapterCacheKey(instanceID, chapterID string) string {
	return "chapter:" + instanceID + ":" + chapterID
}
