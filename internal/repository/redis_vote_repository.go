package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
)

// Compile-time check to ensure redisVoteRepository implements VoteRepository
var _ VoteRepository = (*redisVoteRepository)(nil)

type redisVoteRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisVoteRepository creates a Redis-backed VoteRepository.
func NewRedisVoteRepository(client *redis.Client, logger *zap.Logger) VoteRepository {
	return &redisVoteRepository{
		client: client,
		logger: logger.Named("RedisVoteRepo"),
	}
}

func (r *redisVoteRepository) CreateSession(ctx context.Context, session *models.VotingSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ChapterID, err)
	}
	if err := r.client.Set(ctx, keySession(session.InstanceID, session.ChapterID), payload, 0).Err(); err != nil {
		return fmt.Errorf("create session %s: %w: %w", session.ChapterID, models.ErrStorage, err)
	}
	return nil
}

func (r *redisVoteRepository) GetSession(ctx context.Context, instanceID, chapterID string) (*models.VotingSession, error) {
	raw, err := r.client.Get(ctx, keySession(instanceID, chapterID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w: %w", chapterID, models.ErrStorage, err)
	}
	var session models.VotingSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", chapterID, err)
	}
	return &session, nil
}

// CompleteSession transitions a session to completed exactly once. The
// check-then-write runs under WATCH: a concurrent completion attempt either
// wins the EXEC or re-reads the now-completed session and returns it as-is.
func (r *redisVoteRepository) CompleteSession(ctx context.Context, instanceID, chapterID, winningChoiceID string) (*models.VotingSession, bool, error) {
	key := keySession(instanceID, chapterID)
	var (
		result           *models.VotingSession
		alreadyCompleted bool
	)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return models.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var session models.VotingSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return fmt.Errorf("unmarshal session %s: %w", chapterID, err)
		}
		if session.Status == models.SessionCompleted {
			result = &session
			alreadyCompleted = true
			return nil
		}
		session.Status = models.SessionCompleted
		session.WinningChoiceID = winningChoiceID
		if session.EndTime.After(time.Now()) {
			session.EndTime = time.Now().UTC()
		}
		payload, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", chapterID, err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		}); err != nil {
			return err
		}
		result = &session
		return nil
	}

	for i := 0; i < casRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			alreadyCompleted = false
			continue
		}
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, false, err
		}
		if err != nil {
			return nil, false, fmt.Errorf("complete session %s: %w: %w", chapterID, models.ErrStorage, err)
		}
		return result, alreadyCompleted, nil
	}
	return nil, false, fmt.Errorf("complete session %s: %w: optimistic lock retries exhausted", chapterID, models.ErrStorage)
}

// ExtendSession moves an active session's EndTime under WATCH. A completion
// that commits between the read and the write invalidates the transaction,
// and the retry observes the completed session and refuses.
func (r *redisVoteRepository) ExtendSession(ctx context.Context, instanceID, chapterID string, until time.Time) error {
	key := keySession(instanceID, chapterID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return models.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var session models.VotingSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return fmt.Errorf("unmarshal session %s: %w", chapterID, err)
		}
		if session.Status != models.SessionActive {
			return models.ErrSessionNotActive
		}
		session.EndTime = until.UTC()
		payload, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", chapterID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, models.ErrSessionNotFound) || errors.Is(err, models.ErrSessionNotActive) {
			return err
		}
		if err != nil {
			return fmt.Errorf("extend session %s: %w: %w", chapterID, models.ErrStorage, err)
		}
		return nil
	}
	return fmt.Errorf("extend session %s: %w: optimistic lock retries exhausted", chapterID, models.ErrStorage)
}

// CastVote is the check-then-act guarded by the store's optimistic lock. The
// duplicate check (HEXISTS) and the vote record + count increment run as one
// WATCH/MULTI/EXEC unit, so under concurrent callers for the same
// (userID, chapterID) exactly one EXEC applies and the rest observe the
// recorded vote. A plain read-then-write would not survive horizontally
// scaled workers.
func (r *redisVoteRepository) CastVote(ctx context.Context, instanceID string, vote *models.Vote) (int64, error) {
	votesKey := keyVotes(instanceID, vote.ChapterID)
	countsKey := keyCounts(instanceID, vote.ChapterID)

	payload, err := json.Marshal(vote)
	if err != nil {
		return 0, fmt.Errorf("marshal vote: %w", err)
	}

	var newCount int64
	txf := func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, votesKey, vote.UserID).Result()
		if err != nil {
			return err
		}
		if exists {
			return models.ErrAlreadyVoted
		}
		var incr *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, votesKey, vote.UserID, payload)
			incr = pipe.HIncrBy(ctx, countsKey, vote.ChoiceID, 1)
			return nil
		})
		if err != nil {
			return err
		}
		newCount = incr.Val()
		return nil
	}

	for i := 0; i < casRetries; i++ {
		err := r.client.Watch(ctx, txf, votesKey)
		if errors.Is(err, redis.TxFailedErr) {
			// Another voter touched the hash; re-run the duplicate check.
			continue
		}
		if errors.Is(err, models.ErrAlreadyVoted) {
			return 0, models.ErrAlreadyVoted
		}
		if err != nil {
			r.logger.Error("Failed to cast vote", zap.Error(err),
				zap.String("instanceID", instanceID),
				zap.String("chapterID", vote.ChapterID),
				zap.String("userID", vote.UserID))
			return 0, fmt.Errorf("cast vote: %w: %w", models.ErrStorage, err)
		}
		return newCount, nil
	}
	return 0, fmt.Errorf("cast vote: %w: optimistic lock retries exhausted", models.ErrStorage)
}

func (r *redisVoteRepository) GetVote(ctx context.Context, instanceID, userID, chapterID string) (*models.Vote, error) {
	raw, err := r.client.HGet(ctx, keyVotes(instanceID, chapterID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vote: %w: %w", models.ErrStorage, err)
	}
	var vote models.Vote
	if err := json.Unmarshal([]byte(raw), &vote); err != nil {
		return nil, fmt.Errorf("unmarshal vote: %w", err)
	}
	return &vote, nil
}

func (r *redisVoteRepository) GetCounts(ctx context.Context, instanceID, chapterID string) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, keyCounts(instanceID, chapterID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get counts %s: %w: %w", chapterID, models.ErrStorage, err)
	}
	counts := make(map[string]int64, len(raw))
	for choiceID, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse count for choice %s: %w", choiceID, err)
		}
		counts[choiceID] = n
	}
	return counts, nil
}

func (r *redisVoteRepository) ClearChapter(ctx context.Context, instanceID, chapterID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, keySession(instanceID, chapterID))
	pipe.Del(ctx, keyVotes(instanceID, chapterID))
	pipe.Del(ctx, keyCounts(instanceID, chapterID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear chapter %s: %w: %w", chapterID, models.ErrStorage, err)
	}
	return nil
}

func (r *redisVoteRepository) ExpireChapter(ctx context.Context, instanceID, chapterID string, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	pipe.Expire(ctx, keySession(instanceID, chapterID), ttl)
	pipe.Expire(ctx, keyVotes(instanceID, chapterID), ttl)
	pipe.Expire(ctx, keyCounts(instanceID, chapterID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("expire chapter %s: %w: %w", chapterID, models.ErrStorage, err)
	}
	return nil
}
