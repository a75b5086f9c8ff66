package service

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
	"nightfall-server/internal/realtime"
	"nightfall-server/internal/repository"
)

// capturePublisher collects published events instead of touching a broker.
type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Publish(ctx context.Context, channel string, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(t models.EventType) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type votingFixture struct {
	voting  *VotingService
	votes   repository.VoteRepository
	story   repository.StoryRepository
	history repository.HistoryRepository
	pub     *capturePublisher
	fanout  *realtime.Fanout
}

func newVotingFixture(t *testing.T, seed int64) *votingFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := zap.NewNop()
	pub := &capturePublisher{}
	fanout := realtime.NewFanout(pub, realtime.Options{
		ThrottleWindow: time.Millisecond,
		ThrottleCap:    16,
		BatchMaxItems:  100,
		BatchDelay:     time.Minute,
		BatchCap:       16,
	}, log)
	t.Cleanup(fanout.Close)

	votes := repository.NewRedisVoteRepository(client, log)
	story := repository.NewRedisStoryRepository(client, log)
	history := repository.NewRedisHistoryRepository(client, log)
	voting := NewVotingService(votes, story, fanout, VotingConfig{TieBreakSeed: seed}, log)

	return &votingFixture{voting: voting, votes: votes, story: story, history: history, pub: pub, fanout: fanout}
}

// seedChapter stores an active chapter with three choices and an open session.
func (f *votingFixture) seedChapter(t *testing.T, instanceID, chapterID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.story.SaveChapter(ctx, &models.Chapter{
		ID:         chapterID,
		InstanceID: instanceID,
		BranchID:   "threshold",
		Title:      "The Threshold",
		Choices: []models.ChapterChoice{
			{ID: "c0", Text: "Push open the front door"},
			{ID: "c1", Text: "Circle around to the cellar doors"},
			{ID: "c2", Text: "Turn back while you still can"},
		},
		Status: models.ChapterStatusActive,
	}))
	require.NoError(t, f.votes.CreateSession(ctx, &models.VotingSession{
		InstanceID: instanceID,
		ChapterID:  chapterID,
		StartTime:  time.Now().UTC(),
		EndTime:    time.Now().Add(time.Hour).UTC(),
		Status:     models.SessionActive,
	}))
}

func TestCastVote(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted vote reports the new count", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		res, err := f.voting.CastVote(ctx, "main", "user-1", "chap-1", "c0")
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.Equal(t, "c0", res.ChoiceID)
		assert.Equal(t, int64(1), res.NewCount)
	})

	t.Run("duplicate vote is rejected and counts stay unchanged", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		_, err := f.voting.CastVote(ctx, "main", "user-1", "chap-1", "c0")
		require.NoError(t, err)

		res, err := f.voting.CastVote(ctx, "main", "user-1", "chap-1", "c1")
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, "AlreadyVoted", res.Reason)

		counts, err := f.voting.GetVoteCounts(ctx, "main", "chap-1")
		require.NoError(t, err)
		total := int64(0)
		for _, c := range counts {
			total += c.Count
		}
		assert.Equal(t, int64(1), total)
	})

	t.Run("missing identity is rejected, not errored", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		res, err := f.voting.CastVote(ctx, "main", "", "chap-1", "c0")
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, "IdentityRequired", res.Reason)
	})

	t.Run("unknown choice is rejected", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		res, err := f.voting.CastVote(ctx, "main", "user-1", "chap-1", "c9")
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, "UnknownChoice", res.Reason)
	})

	t.Run("completed session rejects votes", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		_, _, err := f.votes.CompleteSession(ctx, "main", "chap-1", "c0")
		require.NoError(t, err)

		res, err := f.voting.CastVote(ctx, "main", "user-1", "chap-1", "c0")
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, "SessionNotActive", res.Reason)
	})

	t.Run("lapsed window rejects votes", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")
		require.NoError(t, f.votes.CreateSession(ctx, &models.VotingSession{
			InstanceID: "main",
			ChapterID:  "chap-1",
			StartTime:  time.Now().Add(-2 * time.Hour).UTC(),
			EndTime:    time.Now().Add(-time.Hour).UTC(),
			Status:     models.SessionActive,
		}))

		res, err := f.voting.CastVote(ctx, "main", "user-1", "chap-1", "c0")
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, "SessionNotActive", res.Reason)
	})

	t.Run("missing arguments are an input error", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		_, err := f.voting.CastVote(ctx, "main", "user-1", "", "c0")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("unknown chapter surfaces not found", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		_, err := f.voting.CastVote(ctx, "main", "user-1", "ghost", "c0")
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})
}

func TestGetVoteCounts(t *testing.T) {
	ctx := context.Background()

	t.Run("percentages round half up", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		// 5 votes for c0, 2 for c1, none for c2.
		voters := []struct{ user, choice string }{
			{"u1", "c0"}, {"u2", "c0"}, {"u3", "c0"}, {"u4", "c0"}, {"u5", "c0"},
			{"u6", "c1"}, {"u7", "c1"},
		}
		for _, v := range voters {
			res, err := f.voting.CastVote(ctx, "main", v.user, "chap-1", v.choice)
			require.NoError(t, err)
			require.True(t, res.Accepted)
		}

		counts, err := f.voting.GetVoteCounts(ctx, "main", "chap-1")
		require.NoError(t, err)
		require.Len(t, counts, 3)
		assert.Equal(t, models.VoteCount{ChoiceID: "c0", Count: 5, Percentage: 71}, counts[0])
		assert.Equal(t, models.VoteCount{ChoiceID: "c1", Count: 2, Percentage: 29}, counts[1])
		assert.Equal(t, models.VoteCount{ChoiceID: "c2", Count: 0, Percentage: 0}, counts[2])
	})

	t.Run("zero votes yields zero percentages for every choice", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		counts, err := f.voting.GetVoteCounts(ctx, "main", "chap-1")
		require.NoError(t, err)
		require.Len(t, counts, 3)
		for _, c := range counts {
			assert.Zero(t, c.Count)
			assert.Zero(t, c.Percentage)
		}
	})
}

func TestHasVoted(t *testing.T) {
	ctx := context.Background()
	f := newVotingFixture(t, 1)
	f.seedChapter(t, "main", "chap-1")

	voted, choice, err := f.voting.HasVoted(ctx, "main", "user-1", "chap-1")
	require.NoError(t, err)
	assert.False(t, voted)
	assert.Empty(t, choice)

	_, err = f.voting.CastVote(ctx, "main", "user-1", "chap-1", "c1")
	require.NoError(t, err)

	voted, choice, err = f.voting.HasVoted(ctx, "main", "user-1", "chap-1")
	require.NoError(t, err)
	assert.True(t, voted)
	assert.Equal(t, "c1", choice)

	// Anonymous callers have by definition not voted.
	voted, _, err = f.voting.HasVoted(ctx, "main", "", "chap-1")
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()

	t.Run("clear leader wins", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		for _, v := range []struct{ user, choice string }{{"u1", "c0"}, {"u2", "c0"}, {"u3", "c1"}} {
			_, err := f.voting.CastVote(ctx, "main", v.user, "chap-1", v.choice)
			require.NoError(t, err)
		}

		res, err := f.voting.EndSession(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, "c0", res.WinningChoiceID)
		assert.False(t, res.IsTie)
		assert.False(t, res.AlreadyCompleted)
		assert.Equal(t, int64(3), res.TotalVotes)

		require.Len(t, f.pub.byType(models.EventSessionEnded), 1)
	})

	t.Run("ending twice returns the stored winner", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		_, err := f.voting.CastVote(ctx, "main", "u1", "chap-1", "c2")
		require.NoError(t, err)

		first, err := f.voting.EndSession(ctx, "main", "chap-1")
		require.NoError(t, err)

		second, err := f.voting.EndSession(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.True(t, second.AlreadyCompleted)
		assert.Equal(t, first.WinningChoiceID, second.WinningChoiceID)

		// No second session_ended event for the replay.
		assert.Len(t, f.pub.byType(models.EventSessionEnded), 1)
	})

	t.Run("zero votes leaves the session open", func(t *testing.T) {
		f := newVotingFixture(t, 1)
		f.seedChapter(t, "main", "chap-1")

		res, err := f.voting.EndSession(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Empty(t, res.WinningChoiceID)
		assert.False(t, res.AlreadyCompleted)
		assert.Empty(t, f.pub.byType(models.EventSessionEnded))

		session, err := f.voting.GetSession(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionActive, session.Status)

		// The chapter keeps accepting votes and can still end with a winner.
		cast, err := f.voting.CastVote(ctx, "main", "u1", "chap-1", "c1")
		require.NoError(t, err)
		assert.True(t, cast.Accepted)

		res, err = f.voting.EndSession(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.Equal(t, "c1", res.WinningChoiceID)
	})

	t.Run("tie resolves to one of the tied choices", func(t *testing.T) {
		f := newVotingFixture(t, 42)
		f.seedChapter(t, "main", "chap-1")

		for _, v := range []struct{ user, choice string }{{"u1", "c0"}, {"u2", "c1"}} {
			_, err := f.voting.CastVote(ctx, "main", v.user, "chap-1", v.choice)
			require.NoError(t, err)
		}

		res, err := f.voting.EndSession(ctx, "main", "chap-1")
		require.NoError(t, err)
		assert.True(t, res.IsTie)
		assert.Contains(t, []string{"c0", "c1"}, res.WinningChoiceID)
	})
}

func TestPickWinner(t *testing.T) {
	counts := []models.VoteCount{
		{ChoiceID: "c0", Count: 4},
		{ChoiceID: "c1", Count: 4},
		{ChoiceID: "c2", Count: 1},
	}

	t.Run("same seed resolves the tie identically", func(t *testing.T) {
		a := newVotingFixture(t, 7).voting.PickWinner(counts)
		b := newVotingFixture(t, 7).voting.PickWinner(counts)
		assert.True(t, a.IsTie)
		assert.Equal(t, a.ChoiceID, b.ChoiceID)
	})

	t.Run("zero votes yields no winner", func(t *testing.T) {
		f := newVotingFixture(t, 7)
		res := f.voting.PickWinner([]models.VoteCount{{ChoiceID: "c0"}, {ChoiceID: "c1"}})
		assert.Empty(t, res.ChoiceID)
		assert.False(t, res.IsTie)
	})

	t.Run("single leader is not a tie", func(t *testing.T) {
		f := newVotingFixture(t, 7)
		res := f.voting.PickWinner([]models.VoteCount{{ChoiceID: "c0", Count: 2}, {ChoiceID: "c1", Count: 1}})
		assert.Equal(t, "c0", res.ChoiceID)
		assert.False(t, res.IsTie)
	})
}

func TestExtendSession(t *testing.T) {
	ctx := context.Background()
	f := newVotingFixture(t, 1)
	f.seedChapter(t, "main", "chap-1")

	until := time.Now().Add(3 * time.Hour).UTC()
	require.NoError(t, f.voting.ExtendSession(ctx, "main", "chap-1", until))

	session, err := f.voting.GetSession(ctx, "main", "chap-1")
	require.NoError(t, err)
	assert.WithinDuration(t, until, session.EndTime, time.Second)

	// Completed sessions cannot be extended.
	_, _, err = f.votes.CompleteSession(ctx, "main", "chap-1", "c0")
	require.NoError(t, err)
	err = f.voting.ExtendSession(ctx, "main", "chap-1", until.Add(time.Hour))
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
}
