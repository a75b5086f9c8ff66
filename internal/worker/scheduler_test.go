package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
	"nightfall-server/internal/narrative"
	"nightfall-server/internal/realtime"
	"nightfall-server/internal/repository"
	"nightfall-server/internal/service"
)

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, channel string, event models.Event) error {
	return nil
}

type schedulerFixture struct {
	scheduler   *Scheduler
	progression *service.ProgressionService
	voting      *service.VotingService
	votes       repository.VoteRepository
	story       repository.StoryRepository
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := zap.NewNop()
	fanout := realtime.NewFanout(nopPublisher{}, realtime.Options{
		ThrottleWindow: time.Millisecond,
		ThrottleCap:    16,
		BatchMaxItems:  100,
		BatchDelay:     time.Minute,
		BatchCap:       16,
	}, log)
	t.Cleanup(fanout.Close)

	graph, err := narrative.NewGraph(narrative.DefaultCatalogue())
	require.NoError(t, err)

	story := repository.NewRedisStoryRepository(client, log)
	votes := repository.NewRedisVoteRepository(client, log)
	history := repository.NewRedisHistoryRepository(client, log)
	voting := service.NewVotingService(votes, story, fanout, service.VotingConfig{TieBreakSeed: 1}, log)
	progression := service.NewProgressionService(graph, story, votes, history, voting, fanout, nil,
		service.ProgressionConfig{VotingWindow: time.Hour}, log)

	scheduler := NewScheduler(progression, voting, votes, Config{
		ResolveInterval:     time.Hour,
		MaintenanceInterval: time.Hour,
		VoteRetentionTTL:    time.Hour,
		VotingWindow:        time.Hour,
	}, log)

	return &schedulerFixture{
		scheduler:   scheduler,
		progression: progression,
		voting:      voting,
		votes:       votes,
		story:       story,
	}
}

// lapseSession rewrites the chapter's session so its window ended in the past.
func (f *schedulerFixture) lapseSession(t *testing.T, instanceID, chapterID string) {
	t.Helper()
	ctx := context.Background()
	session, err := f.votes.GetSession(ctx, instanceID, chapterID)
	require.NoError(t, err)
	session.EndTime = time.Now().Add(-time.Minute).UTC()
	require.NoError(t, f.votes.CreateSession(ctx, session))
}

func TestResolveInstance(t *testing.T) {
	ctx := context.Background()

	t.Run("active window is left alone", func(t *testing.T) {
		f := newSchedulerFixture(t)
		chapter, err := f.progression.StartStory(ctx, "main")
		require.NoError(t, err)

		require.NoError(t, f.scheduler.ResolveInstance(ctx, "main"))

		_, current, err := f.progression.CurrentChapter(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, chapter.ID, current.ID)
	})

	t.Run("lapsed window with votes advances the story", func(t *testing.T) {
		f := newSchedulerFixture(t)
		chapter, err := f.progression.StartStory(ctx, "main")
		require.NoError(t, err)

		res, err := f.voting.CastVote(ctx, "main", "user-1", chapter.ID, "c0")
		require.NoError(t, err)
		require.True(t, res.Accepted)
		f.lapseSession(t, "main", chapter.ID)

		require.NoError(t, f.scheduler.ResolveInstance(ctx, "main"))

		_, current, err := f.progression.CurrentChapter(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, "foyer", current.BranchID)
	})

	t.Run("lapsed window with zero votes is extended", func(t *testing.T) {
		f := newSchedulerFixture(t)
		chapter, err := f.progression.StartStory(ctx, "main")
		require.NoError(t, err)
		f.lapseSession(t, "main", chapter.ID)

		require.NoError(t, f.scheduler.ResolveInstance(ctx, "main"))

		// Still on the entry chapter, with a fresh window.
		_, current, err := f.progression.CurrentChapter(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, chapter.ID, current.ID)

		session, err := f.voting.GetSession(ctx, "main", chapter.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionActive, session.Status)
		assert.False(t, session.Expired(time.Now()))
	})

	t.Run("completed session left by a crash is finished", func(t *testing.T) {
		f := newSchedulerFixture(t)
		chapter, err := f.progression.StartStory(ctx, "main")
		require.NoError(t, err)

		// Simulate a worker that completed the session but died before the
		// transition became visible.
		_, _, err = f.votes.CompleteSession(ctx, "main", chapter.ID, "c0")
		require.NoError(t, err)

		require.NoError(t, f.scheduler.ResolveInstance(ctx, "main"))

		_, current, err := f.progression.CurrentChapter(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, "foyer", current.BranchID)
	})

	t.Run("ended story is skipped", func(t *testing.T) {
		f := newSchedulerFixture(t)
		chapter, err := f.progression.StartStory(ctx, "main")
		require.NoError(t, err)

		res, err := f.voting.CastVote(ctx, "main", "user-1", chapter.ID, "c2")
		require.NoError(t, err)
		require.True(t, res.Accepted)
		adv, err := f.progression.Advance(ctx, "main", "c2")
		require.NoError(t, err)
		require.True(t, adv.Ended)

		require.NoError(t, f.scheduler.ResolveInstance(ctx, "main"))
	})

	t.Run("unknown instance is a no-op", func(t *testing.T) {
		f := newSchedulerFixture(t)
		require.NoError(t, f.scheduler.ResolveInstance(ctx, "ghost"))
	})
}

func TestResolveAll(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)

	for _, instanceID := range []string{"alpha", "beta"} {
		chapter, err := f.progression.StartStory(ctx, instanceID)
		require.NoError(t, err)
		res, err := f.voting.CastVote(ctx, instanceID, "user-1", chapter.ID, "c0")
		require.NoError(t, err)
		require.True(t, res.Accepted)
		f.lapseSession(t, instanceID, chapter.ID)
	}

	f.scheduler.ResolveAll(ctx)

	for _, instanceID := range []string{"alpha", "beta"} {
		_, current, err := f.progression.CurrentChapter(ctx, instanceID)
		require.NoError(t, err)
		assert.Equal(t, "foyer", current.BranchID, instanceID)
	}
}

func TestMaintainAll(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t)

	chapter, err := f.progression.StartStory(ctx, "main")
	require.NoError(t, err)
	res, err := f.voting.CastVote(ctx, "main", "user-1", chapter.ID, "c0")
	require.NoError(t, err)
	require.True(t, res.Accepted)
	adv, err := f.progression.Advance(ctx, "main", "c0")
	require.NoError(t, err)

	f.scheduler.MaintainAll(ctx)

	// The superseded chapter's session still resolves (TTL set, not deleted),
	// and the current chapter's session is untouched.
	_, err = f.voting.GetSession(ctx, "main", chapter.ID)
	require.NoError(t, err)
	_, err = f.voting.GetSession(ctx, "main", adv.NewChapter.ID)
	require.NoError(t, err)
}
