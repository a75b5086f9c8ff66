package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStoryRepository(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := NewRedisStoryRepository(client, zap.NewNop())

	t.Run("save and get chapter", func(t *testing.T) {
		chapter := &models.Chapter{
			ID:         "chap-1",
			InstanceID: "main",
			BranchID:   "threshold",
			Title:      "The Threshold",
			Choices:    []models.ChapterChoice{{ID: "c0", Text: "Go in"}},
			Status:     models.ChapterStatusActive,
		}
		require.NoError(t, repo.SaveChapter(ctx, chapter))

		got, err := repo.GetChapter(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, chapter.ID, got.ID)
		assert.Equal(t, chapter.Title, got.Title)
	})

	t.Run("missing chapter", func(t *testing.T) {
		_, err := repo.GetChapter(ctx, "main", "no-such")
		assert.ErrorIs(t, err, models.ErrChapterNotFound)
	})

	t.Run("missing context", func(t *testing.T) {
		_, err := repo.GetContext(ctx, "ghost")
		assert.ErrorIs(t, err, models.ErrInstanceNotFound)
	})

	t.Run("register and list instances", func(t *testing.T) {
		require.NoError(t, repo.RegisterInstance(ctx, "main"))
		require.NoError(t, repo.RegisterInstance(ctx, "main")) // idempotent
		ids, err := repo.ListInstances(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, "main")
	})
}

func TestStoryRepositorySwapContext(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := NewRedisStoryRepository(client, zap.NewNop())

	base := &models.StoryContext{
		InstanceID:       "main",
		CurrentChapterID: "chap-1",
		PathTaken:        []string{"chap-1"},
		StoryStartTime:   time.Now().UTC(),
	}
	require.NoError(t, repo.SaveContext(ctx, base))

	t.Run("swap succeeds when pointer matches", func(t *testing.T) {
		next := *base
		next.CurrentChapterID = "chap-2"
		next.PathTaken = append([]string{}, "chap-1", "chap-2")
		require.NoError(t, repo.SwapContext(ctx, &next, "chap-1"))

		got, err := repo.GetContext(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, "chap-2", got.CurrentChapterID)
	})

	t.Run("swap conflicts when pointer moved", func(t *testing.T) {
		stale := *base
		stale.CurrentChapterID = "chap-3"
		err := repo.SwapContext(ctx, &stale, "chap-1")
		assert.ErrorIs(t, err, models.ErrTransitionConflict)

		got, err := repo.GetContext(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, "chap-2", got.CurrentChapterID)
	})

	t.Run("swap on absent context bootstraps it", func(t *testing.T) {
		fresh := &models.StoryContext{InstanceID: "other", CurrentChapterID: "chap-1"}
		require.NoError(t, repo.SwapContext(ctx, fresh, ""))
	})
}

func TestStoryRepositoryClaimTransition(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := NewRedisStoryRepository(client, zap.NewNop())

	stored, mine, err := repo.ClaimTransition(ctx, "main", "chap-1", "c0", "chapter:chap-2")
	require.NoError(t, err)
	assert.True(t, mine)
	assert.Equal(t, "chapter:chap-2", stored)

	// A retry with a different token must observe the first claim.
	stored, mine, err = repo.ClaimTransition(ctx, "main", "chap-1", "c0", "chapter:other")
	require.NoError(t, err)
	assert.False(t, mine)
	assert.Equal(t, "chapter:chap-2", stored)
}

func TestVoteRepositoryCastVote(t *testing.T) {
	ctx := context.Background()

	t.Run("first vote is recorded and counted", func(t *testing.T) {
		client := newTestClient(t)
		repo := NewRedisVoteRepository(client, zap.NewNop())

		count, err := repo.CastVote(ctx, "main", &models.Vote{
			UserID: "user-1", ChapterID: "chap-1", ChoiceID: "c0", Timestamp: time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		vote, err := repo.GetVote(ctx, "main", "user-1", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, "c0", vote.ChoiceID)
	})

	t.Run("duplicate vote is rejected without changing counts", func(t *testing.T) {
		client := newTestClient(t)
		repo := NewRedisVoteRepository(client, zap.NewNop())

		_, err := repo.CastVote(ctx, "main", &models.Vote{UserID: "user-1", ChapterID: "chap-1", ChoiceID: "c0"})
		require.NoError(t, err)

		_, err = repo.CastVote(ctx, "main", &models.Vote{UserID: "user-1", ChapterID: "chap-1", ChoiceID: "c1"})
		assert.ErrorIs(t, err, models.ErrAlreadyVoted)

		counts, err := repo.GetCounts(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts["c0"])
		assert.Zero(t, counts["c1"])
	})

	t.Run("concurrent votes by the same user apply exactly once", func(t *testing.T) {
		client := newTestClient(t)
		repo := NewRedisVoteRepository(client, zap.NewNop())

		const attempts = 10
		var wg sync.WaitGroup
		errs := make([]error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.CastVote(ctx, "main", &models.Vote{
					UserID: "user-1", ChapterID: "chap-1", ChoiceID: "c0",
				})
			}(i)
		}
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			if err == nil {
				accepted++
			} else {
				assert.ErrorIs(t, err, models.ErrAlreadyVoted)
			}
		}
		assert.Equal(t, 1, accepted)

		counts, err := repo.GetCounts(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts["c0"])
	})

	t.Run("distinct users tally independently", func(t *testing.T) {
		client := newTestClient(t)
		repo := NewRedisVoteRepository(client, zap.NewNop())

		for i, choice := range []string{"c0", "c0", "c1"} {
			_, err := repo.CastVote(ctx, "main", &models.Vote{
				UserID: string(rune('a' + i)), ChapterID: "chap-1", ChoiceID: choice,
			})
			require.NoError(t, err)
		}
		counts, err := repo.GetCounts(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts["c0"])
		assert.Equal(t, int64(1), counts["c1"])
	})
}

func TestVoteRepositorySessions(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := NewRedisVoteRepository(client, zap.NewNop())

	session := &models.VotingSession{
		InstanceID: "main",
		ChapterID:  "chap-1",
		StartTime:  time.Now().UTC(),
		EndTime:    time.Now().Add(time.Hour).UTC(),
		Status:     models.SessionActive,
	}
	require.NoError(t, repo.CreateSession(ctx, session))

	t.Run("get session", func(t *testing.T) {
		got, err := repo.GetSession(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionActive, got.Status)
	})

	t.Run("missing session", func(t *testing.T) {
		_, err := repo.GetSession(ctx, "main", "no-such")
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})

	t.Run("complete session exactly once", func(t *testing.T) {
		done, already, err := repo.CompleteSession(ctx, "main", "chap-1", "c0")
		require.NoError(t, err)
		assert.False(t, already)
		assert.Equal(t, models.SessionCompleted, done.Status)
		assert.Equal(t, "c0", done.WinningChoiceID)

		// A replay keeps the stored winner, even with a different candidate.
		done, already, err = repo.CompleteSession(ctx, "main", "chap-1", "c1")
		require.NoError(t, err)
		assert.True(t, already)
		assert.Equal(t, "c0", done.WinningChoiceID)
	})

	t.Run("extend completed session is refused", func(t *testing.T) {
		// The extend must observe the completion committed above; a plain
		// read-modify-write would flip the session back to active here.
		err := repo.ExtendSession(ctx, "main", "chap-1", time.Now().Add(2*time.Hour))
		assert.ErrorIs(t, err, models.ErrSessionNotActive)

		got, err := repo.GetSession(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionCompleted, got.Status)
		assert.Equal(t, "c0", got.WinningChoiceID)
	})

	t.Run("extend active session moves the deadline", func(t *testing.T) {
		require.NoError(t, repo.CreateSession(ctx, &models.VotingSession{
			InstanceID: "main",
			ChapterID:  "chap-2",
			StartTime:  time.Now().UTC(),
			EndTime:    time.Now().Add(time.Hour).UTC(),
			Status:     models.SessionActive,
		}))

		until := time.Now().Add(4 * time.Hour).UTC()
		require.NoError(t, repo.ExtendSession(ctx, "main", "chap-2", until))

		got, err := repo.GetSession(ctx, "main", "chap-2")
		require.NoError(t, err)
		assert.Equal(t, models.SessionActive, got.Status)
		assert.WithinDuration(t, until, got.EndTime, time.Second)
	})

	t.Run("extend missing session", func(t *testing.T) {
		err := repo.ExtendSession(ctx, "main", "ghost", time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})

	t.Run("complete missing session", func(t *testing.T) {
		_, _, err := repo.CompleteSession(ctx, "main", "ghost", "c0")
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})

	t.Run("clear chapter removes voting keys", func(t *testing.T) {
		require.NoError(t, repo.ClearChapter(ctx, "main", "chap-1"))
		_, err := repo.GetSession(ctx, "main", "chap-1")
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})
}

func TestHistoryRepository(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := NewRedisHistoryRepository(client, zap.NewNop())

	entry := &models.HistoryEntry{ChapterID: "chap-1", WinningChoiceID: "c0", Timestamp: time.Now().UTC()}

	t.Run("append and list", func(t *testing.T) {
		appended, err := repo.Append(ctx, "main", entry)
		require.NoError(t, err)
		assert.True(t, appended)

		entries, err := repo.List(ctx, "main")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "chap-1", entries[0].ChapterID)
	})

	t.Run("replayed append is deduplicated", func(t *testing.T) {
		appended, err := repo.Append(ctx, "main", entry)
		require.NoError(t, err)
		assert.False(t, appended)

		entries, err := repo.List(ctx, "main")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("completed paths survive a history clear", func(t *testing.T) {
		require.NoError(t, repo.RecordCompletedPath(ctx, "main", "e-mirror"))
		require.NoError(t, repo.Clear(ctx, "main"))

		entries, err := repo.List(ctx, "main")
		require.NoError(t, err)
		assert.Empty(t, entries)

		paths, err := repo.ListCompletedPaths(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, []string{"e-mirror"}, paths)
	})

	t.Run("same transition can be recorded again after clear", func(t *testing.T) {
		appended, err := repo.Append(ctx, "main", entry)
		require.NoError(t, err)
		assert.True(t, appended)
	})
}
