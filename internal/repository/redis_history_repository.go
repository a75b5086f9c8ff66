package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
)

// Compile-time check to ensure redisHistoryRepository implements HistoryRepository
var _ HistoryRepository = (*redisHistoryRepository)(nil)

type redisHistoryRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisHistoryRepository creates a Redis-backed HistoryRepository.
func NewRedisHistoryRepository(client *redis.Client, logger *zap.Logger) HistoryRepository {
	return &redisHistoryRepository{
		client: client,
		logger: logger.Named("RedisHistoryRepo"),
	}
}

// Append writes the entry to the instance's history list. A set of
// "chapterID:choiceID" markers guards against double appends when a
// transition is retried after a partial failure: SADD returning 0 means the
// transition was already recorded.
func (r *redisHistoryRepository) Append(ctx context.Context, instanceID string, entry *models.HistoryEntry) (bool, error) {
	marker := fmt.Sprintf("%s:%s", entry.ChapterID, entry.WinningChoiceID)
	added, err := r.client.SAdd(ctx, keyHistorySeen(instanceID), marker).Result()
	if err != nil {
		return false, fmt.Errorf("mark history entry: %w: %w", models.ErrStorage, err)
	}
	if added == 0 {
		r.logger.Debug("History entry already recorded, skipping append",
			zap.String("instanceID", instanceID),
			zap.String("chapterID", entry.ChapterID),
			zap.String("choiceID", entry.WinningChoiceID))
		return false, nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal history entry: %w", err)
	}
	if err := r.client.RPush(ctx, keyHistory(instanceID), payload).Err(); err != nil {
		return false, fmt.Errorf("append history: %w: %w", models.ErrStorage, err)
	}
	return true, nil
}

func (r *redisHistoryRepository) List(ctx context.Context, instanceID string) ([]models.HistoryEntry, error) {
	raw, err := r.client.LRange(ctx, keyHistory(instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w: %w", instanceID, models.ErrStorage, err)
	}
	entries := make([]models.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *redisHistoryRepository) RecordCompletedPath(ctx context.Context, instanceID, endingID string) error {
	if err := r.client.SAdd(ctx, keyCompletedPaths(instanceID), endingID).Err(); err != nil {
		return fmt.Errorf("record completed path: %w: %w", models.ErrStorage, err)
	}
	return nil
}

func (r *redisHistoryRepository) ListCompletedPaths(ctx context.Context, instanceID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, keyCompletedPaths(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list completed paths: %w: %w", models.ErrStorage, err)
	}
	return ids, nil
}

func (r *redisHistoryRepository) Clear(ctx context.Context, instanceID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, keyHistory(instanceID))
	pipe.Del(ctx, keyHistorySeen(instanceID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear history %s: %w: %w", instanceID, models.ErrStorage, err)
	}
	return nil
}
