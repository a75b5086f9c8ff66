package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
)

// Compile-time check to ensure redisStoryRepository implements StoryRepository
var _ StoryRepository = (*redisStoryRepository)(nil)

type redisStoryRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStoryRepository creates a Redis-backed StoryRepository.
func NewRedisStoryRepository(client *redis.Client, logger *zap.Logger) StoryRepository {
	return &redisStoryRepository{
		client: client,
		logger: logger.Named("RedisStoryRepo"),
	}
}

func (r *redisStoryRepository) SaveChapter(ctx context.Context, chapter *models.Chapter) error {
	payload, err := json.Marshal(chapter)
	if err != nil {
		return fmt.Errorf("marshal chapter %s: %w", chapter.ID, err)
	}
	if err := r.client.Set(ctx, keyChapter(chapter.InstanceID, chapter.ID), payload, 0).Err(); err != nil {
		r.logger.Error("Failed to save chapter", zap.Error(err),
			zap.String("instanceID", chapter.InstanceID), zap.String("chapterID", chapter.ID))
		return fmt.Errorf("save chapter %s: %w: %w", chapter.ID, models.ErrStorage, err)
	}
	return nil
}

func (r *redisStoryRepository) GetChapter(ctx context.Context, instanceID, chapterID string) (*models.Chapter, error) {
	raw, err := r.client.Get(ctx, keyChapter(instanceID, chapterID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrChapterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter %s: %w: %w", chapterID, models.ErrStorage, err)
	}
	var chapter models.Chapter
	if err := json.Unmarshal([]byte(raw), &chapter); err != nil {
		return nil, fmt.Errorf("unmarshal chapter %s: %w", chapterID, err)
	}
	return &chapter, nil
}

func (r *redisStoryRepository) GetContext(ctx context.Context, instanceID string) (*models.StoryContext, error) {
	raw, err := r.client.Get(ctx, keyContext(instanceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get context %s: %w: %w", instanceID, models.ErrStorage, err)
	}
	var storyCtx models.StoryContext
	if err := json.Unmarshal([]byte(raw), &storyCtx); err != nil {
		return nil, fmt.Errorf("unmarshal context %s: %w", instanceID, err)
	}
	return &storyCtx, nil
}

func (r *redisStoryRepository) SaveContext(ctx context.Context, storyCtx *models.StoryContext) error {
	payload, err := json.Marshal(storyCtx)
	if err != nil {
		return fmt.Errorf("marshal context %s: %w", storyCtx.InstanceID, err)
	}
	if err := r.client.Set(ctx, keyContext(storyCtx.InstanceID), payload, 0).Err(); err != nil {
		return fmt.Errorf("save context %s: %w: %w", storyCtx.InstanceID, models.ErrStorage, err)
	}
	return nil
}

// SwapContext performs the pointer flip under WATCH so two racing advances
// for the same instance cannot both win. The loser observes a context that
// no longer points at expectedChapterID and gets ErrTransitionConflict.
func (r *redisStoryRepository) SwapContext(ctx context.Context, storyCtx *models.StoryContext, expectedChapterID string) error {
	key := keyContext(storyCtx.InstanceID)
	payload, err := json.Marshal(storyCtx)
	if err != nil {
		return fmt.Errorf("marshal context %s: %w", storyCtx.InstanceID, err)
	}

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if !errors.Is(err, redis.Nil) {
			var current models.StoryContext
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return fmt.Errorf("unmarshal current context: %w", err)
			}
			if current.CurrentChapterID != expectedChapterID {
				return models.ErrTransitionConflict
			}
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
			continue // key changed under us, re-check
		}
		if errors.Is(err, models.ErrTransitionConflict) {
			return err
		}
		if err != nil {
			return fmt.Errorf("swap context %s: %w: %w", storyCtx.InstanceID, models.ErrStorage, err)
		}
		return nil
	}
	return models.ErrTransitionConflict
}

func (r *redisStoryRepository) GetProgression(ctx context.Context, instanceID string) (*models.Progression, error) {
	raw, err := r.client.Get(ctx, keyProgression(instanceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progression %s: %w: %w", instanceID, models.ErrStorage, err)
	}
	var p models.Progression
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal progression %s: %w", instanceID, err)
	}
	return &p, nil
}

func (r *redisStoryRepository) SaveProgression(ctx context.Context, p *models.Progression) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progression %s: %w", p.InstanceID, err)
	}
	if err := r.client.Set(ctx, keyProgression(p.InstanceID), payload, 0).Err(); err != nil {
		return fmt.Errorf("save progression %s: %w: %w", p.InstanceID, models.ErrStorage, err)
	}
	return nil
}

// ClaimTransition uses SETNX as the exactly-once marker for a transition.
// The first caller stores its result token; every later caller reads the
// stored token back and knows the transition was already performed.
func (r *redisStoryRepository) ClaimTransition(ctx context.Context, instanceID, chapterID, choiceID, result string) (string, bool, error) {
	key := keyTransition(instanceID, chapterID, choiceID)
	claimed, err := r.client.SetNX(ctx, key, result, transitionTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim transition %s/%s: %w: %w", chapterID, choiceID, models.ErrStorage, err)
	}
	if claimed {
		return result, true, nil
	}
	stored, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false, fmt.Errorf("read transition claim %s/%s: %w: %w", chapterID, choiceID, models.ErrStorage, err)
	}
	return stored, false, nil
}

func (r *redisStoryRepository) RegisterInstance(ctx context.Context, instanceID string) error {
	if err := r.client.SAdd(ctx, keyInstances(), instanceID).Err(); err != nil {
		return fmt.Errorf("register instance %s: %w: %w", instanceID, models.ErrStorage, err)
	}
	return nil
}

func (r *redisStoryRepository) ListInstances(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, keyInstances()).Result()
	if err != nil {
		return nil, fmt.Errorf("list instances: %w: %w", models.ErrStorage, err)
	}
	return ids, nil
}

func (r *redisStoryRepository) ClearInstance(ctx context.Context, instanceID string, chapterIDs []string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, keyContext(instanceID))
	pipe.Del(ctx, keyProgression(instanceID))
	for _, chapterID := range chapterIDs {
		pipe.Del(ctx, keyChapter(instanceID, chapterID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to clear instance", zap.Error(err), zap.String("instanceID", instanceID))
		return fmt.Errorf("clear instance %s: %w: %w", instanceID, models.ErrStorage, err)
	}
	return nil
}
